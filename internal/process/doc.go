// Package process runs media subprocesses (FFmpeg capture and encode)
// whose stdin and stdout carry binary frame data.
//
// A Process owns one child:
//   - stdin and stdout are exposed as raw pipes for the caller
//   - stderr is scanned line by line and routed to a logger, with an
//     optional LogParser extracting the level from tool-specific output
//   - Stop closes stdin, sends SIGINT, and force-kills after a timeout
//
// Example:
//
//	p, err := process.Start(ctx, "ffmpeg -f lavfi -i testsrc2 -f rawvideo pipe:1", logger)
//	if err != nil {
//	    return err
//	}
//	defer p.Stop()
//	_, err = io.ReadFull(p.Stdout(), frame)
package process
