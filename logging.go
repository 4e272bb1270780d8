package fedcomm

import (
	"fmt"
	"log"
	"os"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// verbose gates vv() output behind FEDCOMM_VERBOSE, matching the
// teacher's convention of a cheap env-gated debug print rather than a
// full leveled-logging framework for internal invariant checks.
var verbose = os.Getenv("FEDCOMM_VERBOSE") != ""

// vv prints a debug line iff FEDCOMM_VERBOSE is set. Never used in
// place of a proper error return on the hot path.
func vv(format string, args ...interface{}) {
	if !verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "fedcomm: "+format+"\n", args...)
}

// panicOn panics if err is non-nil. Reserved for invariant violations
// that indicate a bug in this package, never for errors that can
// legitimately arise from the network or the OS.
func panicOn(err error) {
	if err != nil {
		panic(err)
	}
}
