package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/bridge"
	"github.com/thyrook/chessrig/internal/calibration"
	"github.com/thyrook/chessrig/internal/config"
	"github.com/thyrook/chessrig/internal/detect"
	"github.com/thyrook/chessrig/internal/execute"
	"github.com/thyrook/chessrig/internal/iface"
	"github.com/thyrook/chessrig/internal/infer"
	"github.com/thyrook/chessrig/internal/motion"
	"github.com/thyrook/chessrig/internal/motion/kawasaki"
	"github.com/thyrook/chessrig/internal/motion/maestro"
	"github.com/thyrook/chessrig/internal/observe"
	"github.com/thyrook/chessrig/internal/reconcile"
	"github.com/thyrook/chessrig/internal/rules"
	"github.com/thyrook/chessrig/internal/session"
	"github.com/thyrook/chessrig/internal/storage"
	"github.com/thyrook/chessrig/internal/vision"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Configuration file (JSON or YAML)")
	mode := flag.String("mode", "play", "Mode: play, calibrate or observe")
	quiet := flag.Bool("quiet", false, "Only print errors")
	dryRun := flag.Bool("dry-run", false, "Log arm commands instead of sending them")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)
	if *quiet {
		cfg.Interface.Quiet = true
	}
	if *dryRun {
		cfg.Motion.DryRun = true
	}

	cli := iface.NewCLI(os.Stdout, cfg.Interface.Quiet)
	cli.PrintBanner(cfg.Version)

	if err := cfg.EnsureDirectories(); err != nil {
		cli.PrintError(err)
		os.Exit(1)
	}

	logger, closeLog, err := iface.NewLogger(cfg.Interface.LogPath, cfg.Interface.LogLevel)
	if err != nil {
		cli.PrintError(err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli.PrintModeHeader(*mode)
	logger.Info("Starting", zap.String("mode", *mode), zap.String("config", *configPath))

	input := bufio.NewReader(os.Stdin)
	switch *mode {
	case "play":
		err = runPlay(ctx, cfg, cli, input, logger)
	case "calibrate":
		err = runCalibrate(ctx, cfg, cli, input, logger)
	case "observe":
		err = runObserve(ctx, cfg, cli, input, logger)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Stopped with error", zap.Error(err))
		cli.PrintError(err)
		closeLog()
		os.Exit(1)
	}
	cli.PrintStatus("Stopped", "info")
}

// rig is the calibrated vision stack shared by every mode.
type rig struct {
	capturer   *vision.Capturer
	slot       *vision.Slot
	transform  calibration.Transform
	regions    calibration.Regions
	baseline   *detect.Baseline
	sampler    *observe.Sampler
	reconciler *reconcile.Reconciler
	gate       *vision.MotionGate
}

func (r *rig) close(logger *zap.Logger) {
	if r.gate != nil {
		r.gate.Close()
	}
	if r.capturer != nil {
		logger.Info("Capture stopped", zap.String("stats", r.capturer.Stats().String()))
	}
}

// setupVision starts frame capture, calibrates against the first frame and
// learns the empty-square baseline from the configured position.
func setupVision(ctx context.Context, cfg *config.Config, cli *iface.CLI, input *bufio.Reader, logger *zap.Logger) (*rig, error) {
	grabber, err := newGrabber(cfg.Vision)
	if err != nil {
		return nil, err
	}

	r := &rig{slot: vision.NewSlot()}
	r.capturer = vision.NewCapturer(grabber, r.slot, cfg.Vision.CaptureFPS, logger.Named("capture"))
	go func() {
		if err := r.capturer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Capture failed", zap.Error(err))
		}
	}()

	cli.PrintStatus("Waiting for the first frame...", "info")
	frame, err := r.slot.Wait(ctx, 0)
	if err != nil {
		return nil, err
	}

	cal := calibration.New(pointDetector(cfg.Calibration), calibration.Options{
		Tolerance: cfg.Calibration.Tolerance,
		Timeout:   millis(cfg.Calibration.TimeoutMS),
		Inset:     cfg.Calibration.Inset,
	}, logger.Named("calibration"))

	r.transform, err = cal.Calibrate(ctx, frame)
	if err != nil {
		return nil, err
	}
	r.regions, err = cal.Project(frame, r.transform)
	if err != nil {
		return nil, err
	}
	cli.PrintCalibration(r.transform)

	known, err := board.ParseFEN(cfg.Detection.BaselineFEN)
	if err != nil {
		return nil, fmt.Errorf("invalid baseline position: %w", err)
	}

	// The inner-corner detector needs an empty board, so the pieces go on
	// only after calibration.
	if cfg.Calibration.Method == "chessboard" && known.Count(board.White)+known.Count(board.Black) > 0 {
		cli.PrintStatus("Set up the pieces, then press Enter.", "warning")
		if _, err := input.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		frame, err = r.slot.Wait(ctx, frame.Seq)
		if err != nil {
			return nil, err
		}
	}

	r.baseline, err = detect.LearnBaseline(frame.Image, r.regions, known)
	if err != nil {
		return nil, err
	}

	r.gate = vision.NewMotionGate(cfg.Vision.BlurSize, float32(cfg.Vision.DiffThreshold), cfg.Vision.MinMotionArea)
	detector := detect.NewDetector(strategy(cfg.Detection), r.baseline)
	r.sampler = observe.NewSampler(r.slot, r.gate, detector, r.regions, cfg.Vision.SettleFrames, logger.Named("observe"))
	r.reconciler = reconcile.New(cfg.Detection.ConfidenceThreshold)

	logger.Info("Vision ready",
		zap.String("method", r.transform.Method),
		zap.Float64("rms", r.transform.RMS),
		zap.String("strategy", cfg.Detection.Strategy),
	)
	return r, nil
}

func runCalibrate(ctx context.Context, cfg *config.Config, cli *iface.CLI, input *bufio.Reader, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r, err := setupVision(ctx, cfg, cli, input, logger)
	if err != nil {
		return err
	}
	defer r.close(logger)

	snap, err := r.sampler.Observe(ctx)
	if err != nil {
		return err
	}
	cli.PrintSnapshot(snap)

	known := board.MustParseFEN(cfg.Detection.BaselineFEN)
	res := r.reconciler.Reconcile(known, snap)
	cli.PrintTable([]string{"Check", "Result"}, [][]string{
		{"Reprojection RMS", fmt.Sprintf("%.2f px", r.transform.RMS)},
		{"Lowest confidence", fmt.Sprintf("%.2f", snap.MinConfidence())},
		{"Uncertain squares", strconv.Itoa(len(res.Uncertain))},
		{"Squares differing from baseline", strconv.Itoa(res.Changes.Len())},
	})

	if res.NeedsResample() || !res.Changes.IsEmpty() {
		cli.PrintStatus("Detection does not match the baseline position; check lighting and thresholds.", "warning")
		return nil
	}
	cli.PrintStatus("Calibration complete", "success")
	return nil
}

func runObserve(ctx context.Context, cfg *config.Config, cli *iface.CLI, input *bufio.Reader, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r, err := setupVision(ctx, cfg, cli, input, logger)
	if err != nil {
		return err
	}
	defer r.close(logger)

	confirmed := board.MustParseFEN(cfg.Detection.BaselineFEN)
	for {
		snap, err := r.sampler.Observe(ctx)
		if err != nil {
			return err
		}
		cli.PrintSnapshot(snap)

		res := r.reconciler.Reconcile(confirmed, snap)
		logger.Info("Snapshot",
			zap.Uint64("frame", snap.FrameSeq()),
			zap.Float64("min_confidence", snap.MinConfidence()),
			zap.Int("changes", res.Changes.Len()),
			zap.Int("uncertain", len(res.Uncertain)),
		)
	}
}

func runPlay(ctx context.Context, cfg *config.Config, cli *iface.CLI, input *bufio.Reader, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start, err := board.ParseFEN(cfg.Session.StartFEN)
	if err != nil {
		return fmt.Errorf("invalid start position: %w", err)
	}
	robot := board.Black
	if strings.EqualFold(cfg.Session.RobotColor, "white") {
		robot = board.White
	}

	r, err := setupVision(ctx, cfg, cli, input, logger)
	if err != nil {
		return err
	}
	defer r.close(logger)

	oracle := rules.NewChessOracle()

	var selector rules.Selector = rules.FirstLegalSelector{Oracle: oracle}
	if cfg.Engine.Path != "" {
		uci, err := rules.NewUCISelector(cfg.Engine.Path, millis(cfg.Engine.MoveTimeMS), cfg.Engine.SkillLevel, logger.Named("engine"))
		if err != nil {
			return err
		}
		defer uci.Close()
		selector = uci
	}

	driver, closeDriver, err := newDriver(ctx, cfg.Motion, logger.Named("motion"))
	if err != nil {
		return err
	}
	defer closeDriver()

	orch := execute.New(driver, execute.NewPlanner(geometry(cfg.Motion.Geometry)), r.sampler, r.reconciler, execute.Options{
		MaxRetries:     cfg.Motion.MaxRetries,
		CommandTimeout: millis(cfg.Motion.CommandTimeoutMS),
		VerifyTimeout:  millis(cfg.Motion.VerifyTimeoutMS),
		ResampleLimit:  cfg.Motion.ResampleLimit,
	}, logger.Named("execute"))

	notifiers := session.Notifiers{cli}
	deps := session.Deps{
		Observer:   r.sampler,
		Reconciler: r.reconciler,
		Inferencer: infer.New(oracle, promotionKind(cfg.Session.Promotion)),
		Oracle:     oracle,
		Selector:   selector,
		Executor:   orch,
		Notifier:   session.NotifierFunc(func(ev session.Event) { notifiers.Notify(ev) }),
	}

	if cfg.Storage.Enabled {
		store, err := storage.NewObservationStore(cfg.Storage.DBPath, cfg.Storage.MaxSamples)
		if err != nil {
			return err
		}
		defer func() {
			if stats, err := store.GetStats(); err == nil {
				logger.Info("Observation store closed",
					zap.Uint64("total", stats.TotalSamples),
					zap.Int("kept", stats.ActualSamples),
				)
			}
			store.Close()
		}()
		deps.Recorder = store
	}

	machine := session.New(deps, session.Options{
		ResampleLimit: cfg.Session.ResampleLimit,
		StallNotice:   cfg.Session.StallNotice,
	}, logger.Named("session"))

	if cfg.Bridge.Enabled {
		hub := bridge.NewHub(machine, logger.Named("bridge"))
		notifiers = append(notifiers, hub)
		go func() {
			if err := hub.Serve(ctx, cfg.Bridge.Address); err != nil {
				logger.Error("Bridge stopped", zap.Error(err))
			}
		}()
		cli.PrintStatus("Bridge listening on ws://"+cfg.Bridge.Address+"/ws", "info")
	}

	go readCommands(input, machine, cli)

	st := session.NewState(start, robot)
	logger.Info("Game started",
		zap.String("session", st.ID.String()),
		zap.String("robot", robot.String()),
		zap.String("fen", start.FEN()),
	)

	err = machine.Run(ctx, st)

	moves := make([]string, len(st.History))
	for i, m := range st.History {
		moves[i] = m.UCI()
	}
	logger.Info("Game ended",
		zap.String("session", st.ID.String()),
		zap.String("result", st.Result),
		zap.Strings("moves", moves),
	)
	if len(moves) > 0 {
		cli.PrintStatus("Moves: "+strings.Join(moves, " "), "info")
	}
	return err
}

// readCommands forwards console lines to the session until stdin closes.
func readCommands(input *bufio.Reader, machine *session.Machine, cli *iface.CLI) {
	for {
		line, err := input.ReadString('\n')
		if text := strings.TrimSpace(line); text != "" {
			cmd, perr := session.ParseCommand(text)
			if perr == nil {
				perr = machine.Submit(cmd)
			}
			if perr != nil {
				cli.PrintError(perr)
			}
		}
		if err != nil {
			return
		}
	}
}

func newGrabber(cfg config.VisionConfig) (vision.Grabber, error) {
	switch cfg.Source {
	case "video":
		return vision.NewVideoGrabber(cfg.VideoPath, cfg.Loop)
	case "screen":
		reg := cfg.ScreenRegion
		return vision.NewScreenGrabber(reg.X, reg.Y, reg.Width, reg.Height)
	}
	var device interface{} = cfg.Device
	if id, err := strconv.Atoi(cfg.Device); err == nil {
		device = id
	}
	return vision.NewCameraGrabber(device)
}

func pointDetector(cfg config.CalibrationConfig) calibration.PointDetector {
	if cfg.Method == "corners" {
		pt := func(p config.Point) calibration.Point { return calibration.Point{X: p.X, Y: p.Y} }
		return calibration.CornerPoints{A1: pt(cfg.A1), H1: pt(cfg.H1), H8: pt(cfg.H8), A8: pt(cfg.A8)}
	}
	return calibration.ChessboardDetector{WhiteAtBottom: cfg.WhiteAtBottom}
}

func strategy(cfg config.DetectionConfig) detect.Strategy {
	if cfg.Strategy == "threshold" {
		return detect.ThresholdStrategy{DarkBelow: cfg.DarkBelow, LightAbove: cfg.LightAbove, Margin: cfg.ThresholdMargin}
	}
	return detect.ContrastStrategy{OccupancyDelta: cfg.OccupancyDelta, ColorMargin: cfg.ColorMargin}
}

func newDriver(ctx context.Context, cfg config.MotionConfig, logger *zap.Logger) (motion.Driver, func(), error) {
	if cfg.DryRun {
		logger.Warn("Dry run: arm commands are logged, not sent")
		return motion.NewDryRun(200*time.Millisecond, logger), func() {}, nil
	}

	arm, err := kawasaki.Dial(ctx, cfg.ArmAddress, cfg.ArmUser, logger.Named("arm"))
	if err != nil {
		return nil, nil, err
	}

	opts := maestro.DefaultOptions()
	opts.Channel = byte(cfg.GripperChannel)
	opts.OpenTarget = uint16(cfg.OpenTarget)
	opts.CloseTarget = uint16(cfg.CloseTarget)
	gripper, err := maestro.Open(cfg.GripperDevice, opts, logger.Named("gripper"))
	if err != nil {
		arm.Close()
		return nil, nil, err
	}

	closeAll := func() {
		gripper.Close()
		arm.Close()
	}
	return motion.Rig{Arm: arm, Gripper: gripper}, closeAll, nil
}

func geometry(cfg config.GeometryConfig) motion.Geometry {
	pose := func(v [6]float64) motion.Pose {
		return motion.Pose{X: v[0], Y: v[1], Z: v[2], O: v[3], A: v[4], T: v[5]}
	}
	vec := func(v [2]float64) motion.Vec { return motion.Vec{X: v[0], Y: v[1]} }
	return motion.Geometry{
		A1:           pose(cfg.A1),
		FileStep:     vec(cfg.FileStep),
		RankStep:     vec(cfg.RankStep),
		Lift:         cfg.Lift,
		Holding:      pose(cfg.Holding),
		HoldingStep:  vec(cfg.HoldingStep),
		HoldingSlots: cfg.HoldingSlots,
		Rest:         pose(cfg.Rest),
	}
}

func promotionKind(letter string) board.Kind {
	switch strings.ToLower(letter) {
	case "q":
		return board.Queen
	case "r":
		return board.Rook
	case "b":
		return board.Bishop
	case "n":
		return board.Knight
	}
	return board.NoKind
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
