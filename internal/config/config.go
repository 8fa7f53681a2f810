// Package config holds the rig configuration: file loading (JSON or YAML),
// CHESSRIG_* environment overrides and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	AppName     string            `json:"app_name" yaml:"app_name"`
	Version     string            `json:"version" yaml:"version"`
	Vision      VisionConfig      `json:"vision" yaml:"vision"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration"`
	Detection   DetectionConfig   `json:"detection" yaml:"detection"`
	Motion      MotionConfig      `json:"motion" yaml:"motion"`
	Session     SessionConfig     `json:"session" yaml:"session"`
	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Bridge      BridgeConfig      `json:"bridge" yaml:"bridge"`
	Interface   InterfaceConfig   `json:"interface" yaml:"interface"`
}

// VisionConfig contains frame source and stability gate settings
type VisionConfig struct {
	// Source is camera, video or screen.
	Source        string  `json:"source" yaml:"source"`
	Device        string  `json:"device" yaml:"device" env:"CHESSRIG_CAMERA_DEVICE"`
	VideoPath     string  `json:"video_path" yaml:"video_path"`
	Loop          bool    `json:"loop" yaml:"loop"`
	ScreenRegion  Region  `json:"screen_region" yaml:"screen_region"`
	CaptureFPS    int     `json:"capture_fps" yaml:"capture_fps"`
	BlurSize      int     `json:"blur_size" yaml:"blur_size"`
	DiffThreshold float64 `json:"diff_threshold" yaml:"diff_threshold"`
	MinMotionArea float64 `json:"min_motion_area" yaml:"min_motion_area"`
	SettleFrames  int     `json:"settle_frames" yaml:"settle_frames"`
}

// Region defines a screen capture area
type Region struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Point is a pixel position.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// CalibrationConfig selects how reference points are found
type CalibrationConfig struct {
	// Method is chessboard (inner corners of the empty board) or corners
	// (the four configured outer corners).
	Method        string  `json:"method" yaml:"method"`
	WhiteAtBottom bool    `json:"white_at_bottom" yaml:"white_at_bottom"`
	A1            Point   `json:"a1" yaml:"a1"`
	H1            Point   `json:"h1" yaml:"h1"`
	H8            Point   `json:"h8" yaml:"h8"`
	A8            Point   `json:"a8" yaml:"a8"`
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`
	TimeoutMS     int     `json:"timeout_ms" yaml:"timeout_ms"`
	Inset         float64 `json:"inset" yaml:"inset"`
}

// DetectionConfig contains occupancy classification settings
type DetectionConfig struct {
	// Strategy is contrast or threshold.
	Strategy            string  `json:"strategy" yaml:"strategy"`
	OccupancyDelta      float64 `json:"occupancy_delta" yaml:"occupancy_delta"`
	ColorMargin         float64 `json:"color_margin" yaml:"color_margin"`
	DarkBelow           float64 `json:"dark_below" yaml:"dark_below"`
	LightAbove          float64 `json:"light_above" yaml:"light_above"`
	ThresholdMargin     float64 `json:"threshold_margin" yaml:"threshold_margin"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// BaselineFEN is the position on the board when the baseline is learned.
	BaselineFEN string `json:"baseline_fen" yaml:"baseline_fen"`
}

// GeometryConfig locates the board and holding area in arm coordinates.
// Poses are x, y, z, o, a, t.
type GeometryConfig struct {
	A1           [6]float64 `json:"a1" yaml:"a1"`
	FileStep     [2]float64 `json:"file_step" yaml:"file_step"`
	RankStep     [2]float64 `json:"rank_step" yaml:"rank_step"`
	Lift         float64    `json:"lift" yaml:"lift"`
	Holding      [6]float64 `json:"holding" yaml:"holding"`
	HoldingStep  [2]float64 `json:"holding_step" yaml:"holding_step"`
	HoldingSlots int        `json:"holding_slots" yaml:"holding_slots"`
	Rest         [6]float64 `json:"rest" yaml:"rest"`
}

// MotionConfig contains arm, gripper and execution settings
type MotionConfig struct {
	DryRun           bool           `json:"dry_run" yaml:"dry_run" env:"CHESSRIG_DRY_RUN"`
	ArmAddress       string         `json:"arm_address" yaml:"arm_address" env:"CHESSRIG_ARM_ADDR"`
	ArmUser          string         `json:"arm_user" yaml:"arm_user"`
	GripperDevice    string         `json:"gripper_device" yaml:"gripper_device" env:"CHESSRIG_GRIPPER_DEVICE"`
	GripperChannel   int            `json:"gripper_channel" yaml:"gripper_channel"`
	OpenTarget       int            `json:"open_target" yaml:"open_target"`
	CloseTarget      int            `json:"close_target" yaml:"close_target"`
	Geometry         GeometryConfig `json:"geometry" yaml:"geometry"`
	MaxRetries       int            `json:"max_retries" yaml:"max_retries"`
	CommandTimeoutMS int            `json:"command_timeout_ms" yaml:"command_timeout_ms"`
	VerifyTimeoutMS  int            `json:"verify_timeout_ms" yaml:"verify_timeout_ms"`
	ResampleLimit    int            `json:"resample_limit" yaml:"resample_limit"`
}

// SessionConfig contains game settings
type SessionConfig struct {
	// RobotColor is the side the rig plays: white or black.
	RobotColor    string `json:"robot_color" yaml:"robot_color" env:"CHESSRIG_ROBOT_COLOR"`
	StartFEN      string `json:"start_fen" yaml:"start_fen"`
	ResampleLimit int    `json:"resample_limit" yaml:"resample_limit"`
	// Promotion is the piece letter assumed for an unresolved promotion. Empty
	// leaves every promotion to a "resolve" command.
	Promotion string `json:"promotion" yaml:"promotion"`
	// StallNotice is the number of consecutive observations with a piece
	// lifted after which the session reports a stalled board. Zero disables it.
	StallNotice int `json:"stall_notice" yaml:"stall_notice"`
}

// EngineConfig selects the rig's own moves. An empty path uses the first
// legal move.
type EngineConfig struct {
	Path       string `json:"path" yaml:"path" env:"CHESSRIG_ENGINE_PATH"`
	MoveTimeMS int    `json:"move_time_ms" yaml:"move_time_ms"`
	SkillLevel int    `json:"skill_level" yaml:"skill_level"`
}

// StorageConfig contains observation recording settings
type StorageConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	DBPath     string `json:"db_path" yaml:"db_path"`
	MaxSamples int    `json:"max_samples" yaml:"max_samples"`
}

// BridgeConfig contains the presentation bridge settings
type BridgeConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address" env:"CHESSRIG_BRIDGE_ADDR"`
}

// InterfaceConfig contains console and logging settings
type InterfaceConfig struct {
	LogLevel string `json:"log_level" yaml:"log_level" env:"CHESSRIG_LOG_LEVEL"`
	LogPath  string `json:"log_path" yaml:"log_path"`
	Quiet    bool   `json:"quiet" yaml:"quiet"`
}

// DefaultConfig returns the configuration of the reference rig
func DefaultConfig() *Config {
	return &Config{
		AppName: "chessrig",
		Version: "1.0.0",
		Vision: VisionConfig{
			Source:        "camera",
			Device:        "0",
			ScreenRegion:  Region{X: 100, Y: 100, Width: 800, Height: 800},
			CaptureFPS:    10,
			BlurSize:      21,
			DiffThreshold: 15,
			MinMotionArea: 300,
			SettleFrames:  3,
		},
		Calibration: CalibrationConfig{
			Method:        "chessboard",
			WhiteAtBottom: true,
			Tolerance:     3.0,
			TimeoutMS:     10000,
			Inset:         0.2,
		},
		Detection: DetectionConfig{
			Strategy:            "contrast",
			OccupancyDelta:      18,
			ColorMargin:         0.2,
			DarkBelow:           80,
			LightAbove:          180,
			ThresholdMargin:     20,
			ConfidenceThreshold: 0.5,
			BaselineFEN:         "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		},
		Motion: MotionConfig{
			ArmAddress:     "192.168.0.2:23",
			ArmUser:        "as",
			GripperDevice:  "/dev/ttyACM0",
			GripperChannel: 0,
			OpenTarget:     1984,
			CloseTarget:    2880,
			Geometry: GeometryConfig{
				A1:           [6]float64{93.395, 547.541, -210.056, 164.851, 179.143, -108.635},
				FileStep:     [2]float64{-40, 0},
				RankStep:     [2]float64{0, -40},
				Lift:         80,
				Holding:      [6]float64{-286.605, 547.541, -210.056, 164.851, 179.143, -108.635},
				HoldingStep:  [2]float64{0, -40},
				HoldingSlots: 16,
				Rest:         [6]float64{-46.605, 627.541, -60.056, 164.851, 179.143, -108.635},
			},
			MaxRetries:       2,
			CommandTimeoutMS: 30000,
			VerifyTimeoutMS:  10000,
			ResampleLimit:    3,
		},
		Session: SessionConfig{
			RobotColor:    "black",
			StartFEN:      "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
			ResampleLimit: 3,
			StallNotice:   50,
		},
		Engine: EngineConfig{
			MoveTimeMS: 1000,
			SkillLevel: 10,
		},
		Storage: StorageConfig{
			Enabled:    true,
			DBPath:     "data/observations.db",
			MaxSamples: 10000,
		},
		Bridge: BridgeConfig{
			Enabled: true,
			Address: "127.0.0.1:8765",
		},
		Interface: InterfaceConfig{
			LogLevel: "info",
			LogPath:  "logs/chessrig.log",
		},
	}
}

// Validate checks the configuration for values the rig cannot run with
func (c *Config) Validate() error {
	switch c.Vision.Source {
	case "camera", "video", "screen":
	default:
		return fmt.Errorf("invalid vision source %q", c.Vision.Source)
	}
	if c.Vision.Source == "video" && c.Vision.VideoPath == "" {
		return fmt.Errorf("video source needs a video path")
	}
	if c.Vision.Source == "screen" && (c.Vision.ScreenRegion.Width <= 0 || c.Vision.ScreenRegion.Height <= 0) {
		return fmt.Errorf("invalid screen region %dx%d", c.Vision.ScreenRegion.Width, c.Vision.ScreenRegion.Height)
	}
	if c.Vision.CaptureFPS < 1 || c.Vision.CaptureFPS > 120 {
		return fmt.Errorf("invalid capture FPS: %d (must be 1-120)", c.Vision.CaptureFPS)
	}
	if c.Vision.BlurSize < 0 || (c.Vision.BlurSize > 0 && c.Vision.BlurSize%2 == 0) {
		return fmt.Errorf("blur size must be odd: %d", c.Vision.BlurSize)
	}

	switch c.Calibration.Method {
	case "chessboard", "corners":
	default:
		return fmt.Errorf("invalid calibration method %q", c.Calibration.Method)
	}
	if c.Calibration.Tolerance <= 0 {
		return fmt.Errorf("calibration tolerance must be positive")
	}
	if c.Calibration.Inset < 0 || c.Calibration.Inset >= 0.5 {
		return fmt.Errorf("invalid calibration inset: %.2f (must be 0-0.5)", c.Calibration.Inset)
	}

	switch c.Detection.Strategy {
	case "contrast", "threshold":
	default:
		return fmt.Errorf("invalid detection strategy %q", c.Detection.Strategy)
	}
	if c.Detection.ConfidenceThreshold <= 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence threshold: %.2f (must be 0-1)", c.Detection.ConfidenceThreshold)
	}

	if !c.Motion.DryRun && c.Motion.ArmAddress == "" {
		return fmt.Errorf("arm address is required unless dry_run is set")
	}
	if c.Motion.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Motion.CommandTimeoutMS <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	switch strings.ToLower(c.Session.RobotColor) {
	case "white", "black":
	default:
		return fmt.Errorf("invalid robot color %q", c.Session.RobotColor)
	}
	switch strings.ToLower(c.Session.Promotion) {
	case "", "q", "r", "b", "n":
	default:
		return fmt.Errorf("invalid promotion piece %q", c.Session.Promotion)
	}

	if c.Storage.Enabled && c.Storage.MaxSamples <= 0 {
		return fmt.Errorf("max samples must be positive")
	}
	if c.Bridge.Enabled && c.Bridge.Address == "" {
		return fmt.Errorf("bridge address is required when the bridge is enabled")
	}

	switch c.Interface.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Interface.LogLevel)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to the defaults with environment
// overrides when the file is missing or invalid
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err == nil {
		return cfg
	}
	cfg = DefaultConfig()
	_ = cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from CHESSRIG_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes the configuration to a file, as YAML for .yaml/.yml paths
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureDirectories creates the directories of every configured file path
func (c *Config) EnsureDirectories() error {
	paths := []string{c.Interface.LogPath}
	if c.Storage.Enabled {
		paths = append(paths, c.Storage.DBPath)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}
