package codec

// H.264 profile_idc values.
const (
	ProfileBaseline = 66
	ProfileMain     = 77
	ProfileHigh     = 100
)

type levelLimit struct {
	idc     int
	name    string
	mbps    int // macroblocks per second
	frameMB int // macroblocks per frame
}

// Table A-1, starting at 3.1 which the pipeline always signals at minimum.
var levels = []levelLimit{
	{31, "3.1", 108000, 3600},
	{32, "3.2", 216000, 5120},
	{40, "4.0", 245760, 8192},
	{42, "4.2", 522240, 8704},
	{50, "5.0", 589824, 22080},
	{51, "5.1", 983040, 36864},
	{52, "5.2", 2073600, 36864},
}

// LevelFor returns the smallest level (3.1 or higher) that fits the stream.
func LevelFor(width, height, fps int) (idc int, name string) {
	mbs := ((width + 15) / 16) * ((height + 15) / 16)
	for _, l := range levels {
		if mbs <= l.frameMB && mbs*fps <= l.mbps {
			return l.idc, l.name
		}
	}
	last := levels[len(levels)-1]
	return last.idc, last.name
}
