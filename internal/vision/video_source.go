package vision

import (
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"
)

// CameraGrabber reads from a camera device through OpenCV.
type CameraGrabber struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	gray    gocv.Mat
}

// NewCameraGrabber opens device, either a numeric index or a device path/URL.
func NewCameraGrabber(device interface{}) (*CameraGrabber, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %v: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("camera %v not opened", device)
	}
	return &CameraGrabber{capture: capture, mat: gocv.NewMat(), gray: gocv.NewMat()}, nil
}

// Grab implements Grabber.
func (g *CameraGrabber) Grab() (*image.Gray, error) {
	if !g.capture.Read(&g.mat) || g.mat.Empty() {
		return nil, fmt.Errorf("failed to read camera frame")
	}
	return matToGray(g.mat, &g.gray)
}

// Close implements Grabber.
func (g *CameraGrabber) Close() error {
	g.mat.Close()
	g.gray.Close()
	return g.capture.Close()
}

// VideoGrabber replays a recorded video file, optionally looping.
type VideoGrabber struct {
	video      *gocv.VideoCapture
	loop       bool
	fps        float64
	frameCount int
	current    int
	mat        gocv.Mat
	gray       gocv.Mat
}

// NewVideoGrabber opens a video file for playback.
func NewVideoGrabber(path string, loop bool) (*VideoGrabber, error) {
	video, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file: %w", err)
	}
	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("video file not opened")
	}

	return &VideoGrabber{
		video:      video,
		loop:       loop,
		fps:        video.Get(gocv.VideoCaptureFPS),
		frameCount: int(video.Get(gocv.VideoCaptureFrameCount)),
		mat:        gocv.NewMat(),
		gray:       gocv.NewMat(),
	}, nil
}

// Grab implements Grabber. It returns io.EOF at the end of a non-looping file.
func (g *VideoGrabber) Grab() (*image.Gray, error) {
	if !g.video.Read(&g.mat) || g.mat.Empty() {
		if !g.loop {
			return nil, io.EOF
		}
		g.video.Set(gocv.VideoCapturePosFrames, 0)
		g.current = 0
		if !g.video.Read(&g.mat) || g.mat.Empty() {
			return nil, io.EOF
		}
	}
	g.current++
	return matToGray(g.mat, &g.gray)
}

// FPS returns the file's nominal frame rate.
func (g *VideoGrabber) FPS() float64 { return g.fps }

// Progress returns playback progress in [0,1].
func (g *VideoGrabber) Progress() float64 {
	if g.frameCount == 0 {
		return 0
	}
	return float64(g.current) / float64(g.frameCount)
}

// Close implements Grabber.
func (g *VideoGrabber) Close() error {
	g.mat.Close()
	g.gray.Close()
	return g.video.Close()
}

func matToGray(src gocv.Mat, gray *gocv.Mat) (*image.Gray, error) {
	switch src.Channels() {
	case 1:
		src.CopyTo(gray)
	case 4:
		gocv.CvtColor(src, gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, gray, gocv.ColorBGRToGray)
	}

	img, err := gray.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert mat to image: %w", err)
	}
	return toGray(img), nil
}
