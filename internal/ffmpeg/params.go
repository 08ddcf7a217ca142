package ffmpeg

// CaptureParams describes a raw-frame capture command: a camera device (or
// test pattern) decoded to packed yuv420p on stdout.
type CaptureParams struct {
	// Input
	DevicePath   string // /dev/video0, "0" for avfoundation
	InputDriver  string // v4l2, avfoundation; empty picks by DevicePath
	InputFormat  string // yuyv422, mjpeg, nv12...
	Width        int
	Height       int
	FPS          int
	IsTestSource bool   // lavfi testsrc2 instead of a device
	TestOverlay  string // drawtext overlay for test mode

	// Behavior flags
	Options []OptionType
}

// EncodeParams describes a stdin-to-stdout encode: raw frames in, Annex-B
// H.264 out.
type EncodeParams struct {
	// Input
	Width       int
	Height      int
	FPS         int
	PixelFormat string // yuv420p, nv12, nv21

	// Encoder
	Encoder string // h264_vaapi, h264_nvenc, libx264...
	Profile string // baseline, main, high
	Level   string // 3.1, 4.0...

	// Rate control
	Bitrate int // bits per second
	GOP     int // frames between IDR pictures

	// Hardware acceleration
	GlobalArgs   []string          // -vaapi_device, etc.
	VideoFilters string            // format=nv12,hwupload
	OutputParams map[string]string // encoder private options (-qp, -rc_mode)

	// ProgressSocket receives -progress key=value reports when set
	ProgressSocket string

	// Behavior flags
	Options []OptionType
}
