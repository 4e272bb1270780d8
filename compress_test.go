package fedcomm

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test070_frameCompressor_roundtrip_all_codecs(t *testing.T) {

	cv.Convey("Compress followed by Decompress should return the original payload for every codec", t, func() {
		payload := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility")
		for _, codec := range []CompressionCodec{CompressionNone, CompressionZstd, CompressionLZ4} {
			fc, err := newFrameCompressor(codec)
			cv.So(err, cv.ShouldBeNil)

			framed, err := fc.Compress(payload)
			cv.So(err, cv.ShouldBeNil)

			got, err := fc.Decompress(framed)
			cv.So(err, cv.ShouldBeNil)
			cv.So(string(got), cv.ShouldEqual, string(payload))
			fc.Close()
		}
	})
}

func Test071_frameCompressor_decompress_handles_foreign_codec(t *testing.T) {

	cv.Convey("a receiver configured for lz4 should still decompress a zstd-tagged frame from a peer", t, func() {
		sender, err := newFrameCompressor(CompressionZstd)
		cv.So(err, cv.ShouldBeNil)
		defer sender.Close()

		framed, err := sender.Compress([]byte("cross codec payload"))
		cv.So(err, cv.ShouldBeNil)

		receiver, err := newFrameCompressor(CompressionLZ4)
		cv.So(err, cv.ShouldBeNil)
		defer receiver.Close()

		got, err := receiver.Decompress(framed)
		cv.So(err, cv.ShouldBeNil)
		cv.So(string(got), cv.ShouldEqual, "cross codec payload")
	})
}

func Test072_parseCompressionCodec(t *testing.T) {

	cv.Convey("ParseCompressionCodec should accept the three known names and reject anything else", t, func() {
		c, err := ParseCompressionCodec("zstd")
		cv.So(err, cv.ShouldBeNil)
		cv.So(c, cv.ShouldEqual, CompressionZstd)

		_, err = ParseCompressionCodec("brotli")
		cv.So(err, cv.ShouldNotBeNil)
	})
}
