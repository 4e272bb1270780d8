package fedcomm

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/klauspost/cpuid/v2"
)

// HostDiagnostics is a snapshot of the local host attached to
// synthetic CMD_ERROR messages (§7 category 2) so operators can tell
// "broker unreachable on an underpowered VM" from "broker unreachable,
// otherwise healthy host" without extra tooling.
type HostDiagnostics struct {
	Brand        string
	NumCPU       int
	LogicalCores int
	HasAVX2      bool
	GOOS         string
	GOARCH       string
	ExternalIP   string
}

func (h *HostDiagnostics) String() string {
	if h == nil {
		return "<nil HostDiagnostics>"
	}
	return fmt.Sprintf("HostDiagnostics{brand:%q numCPU:%d logicalCores:%d avx2:%v os/arch:%s/%s externalIP:%s}",
		h.Brand, h.NumCPU, h.LogicalCores, h.HasAVX2, h.GOOS, h.GOARCH, h.ExternalIP)
}

// snapshotHostDiagnostics probes the local CPU via klauspost/cpuid. It
// never fails: cpuid falls back to conservative defaults if the CPU
// cannot be identified.
func snapshotHostDiagnostics() *HostDiagnostics {
	return &HostDiagnostics{
		Brand:        cpuid.CPU.BrandName,
		NumCPU:       runtime.NumCPU(),
		LogicalCores: cpuid.CPU.LogicalCores,
		HasAVX2:      cpuid.CPU.Supports(cpuid.AVX2),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		ExternalIP:   GetExternalIP(),
	}
}

// GetExternalIP picks the first non-loopback IPv4 address bound to a
// local interface, preferring a routable (non-private) one when more
// than one candidate exists. It's attached to synthetic CMD_ERROR
// diagnostics and printed by cmd/fedcore at startup so an operator can
// tell which address peers should be dialing.
func GetExternalIP() string {
	if runtime.GOOS == "windows" {
		return "127.0.0.1"
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	var candidates []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		candidates = append(candidates, ip4.String())
	}
	switch len(candidates) {
	case 0:
		return "127.0.0.1"
	case 1:
		return candidates[0]
	default:
		for _, ip := range candidates {
			if parsed := net.ParseIP(ip); parsed != nil && !parsed.IsPrivate() {
				return ip
			}
		}
		return candidates[0]
	}
}

// GetCodeVersion formats the build-time version metadata (populated
// via -ldflags by the release process, per the teacher's convention)
// for a program's --version output.
func GetCodeVersion(programName string) string {
	return fmt.Sprintf("%s commit: %s / nearest-git-tag: %s / branch: %s / go version: %s\n",
		programName, lastGitCommitHash, nearestGitTag, gitBranch, goVersionUsed)
}

var (
	lastGitCommitHash string
	nearestGitTag     string
	gitBranch         string
	goVersionUsed     string
)

// Exit1IfVersionReq checks os.Args for -version/--version and, if
// present, prints build info and GetCodeVersion then exits 1, per the
// teacher's CLI convention of a cheap version flag with no dependency
// on a flag-parsing library having run yet.
func Exit1IfVersionReq() {
	for _, a := range os.Args {
		if a == "-version" || a == "--version" {
			if bi, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(os.Stderr, "%v version: %+v\n", os.Args[0], bi)
				fmt.Fprintf(os.Stderr, "\n%s\n", GetCodeVersion(os.Args[0]))
				os.Exit(1)
			}
		}
	}
}
