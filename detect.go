package main

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/spf13/cobra"

	"github.com/example/brewguard/internal/classifier"
	"github.com/example/brewguard/internal/detection"
	"github.com/example/brewguard/internal/imageinput"
	"github.com/example/brewguard/internal/proxyclient"
	"github.com/example/brewguard/internal/session"
)

type detectOutput struct {
	SessionID      string                      `json:"sessionId"`
	State          session.State               `json:"state"`
	FileName       string                      `json:"fileName"`
	Progress       float64                     `json:"progress"`
	ProcessedImage string                      `json:"processedImage,omitempty"`
	Detections     []detection.DetectionResult `json:"detections,omitempty"`
	Error          *detection.ErrorEnvelope    `json:"error,omitempty"`
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var (
		modelFlag    string
		typeFlag     string
		confidence   int
		overlap      int
		proxyFlag    string
		includeImage bool
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Submit a JPG or PNG leaf image for disease detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			opts, err := cfg.DetectionOptions()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("model") {
				if opts.ModelType, err = detection.ParseModelType(modelFlag); err != nil {
					return err
				}
			}
			if flags.Changed("type") {
				if opts.DetectionType, err = detection.ParseDetectionType(typeFlag); err != nil {
					return err
				}
			}
			if flags.Changed("confidence") {
				opts.Confidence = confidence
			}
			if flags.Changed("overlap") {
				opts.Overlap = overlap
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			proxyURL := cfg.Client.ProxyURL
			if proxyFlag != "" {
				proxyURL = proxyFlag
			}

			emitter, closeEvents, err := initEvents(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeEvents()

			candidate, closer, err := imageinput.OpenCandidate(args[0])
			if err != nil {
				return err
			}
			defer closer.Close()

			client := proxyclient.New(proxyURL, logger, proxyclient.WithTimeout(cfg.ClientTimeout()))
			controller := session.NewController(
				imageinput.NewValidator(emitter),
				client,
				classifier.New(cfg.Production()),
				logger,
				session.WithOptions(opts),
				session.WithEvents(emitter),
			)
			defer controller.Close()
			if !quiet {
				controller.Subscribe(newProgressPrinter(cmd.ErrOrStderr()).print)
			}

			snap := controller.Submit(cmd.Context(), candidate)
			out := detectOutput{
				SessionID: snap.SessionID,
				State:     snap.State,
				FileName:  snap.FileName,
				Progress:  snap.Progress,
				Error:     snap.Err,
			}
			if snap.Result != nil {
				out.Detections = snap.Result.Detections
				if includeImage {
					out.ProcessedImage = snap.Result.ProcessedImage
				}
			}
			if err := writeJSON(cmd, out); err != nil {
				return err
			}
			if snap.State == session.StateFailed {
				return fmt.Errorf("detection failed: %w", snap.Err)
			}
			return nil
		},
	}

	defaults := detection.DefaultOptions()
	cmd.Flags().StringVar(&modelFlag, "model", string(defaults.ModelType), "Model type (yolo11m-full-leaf, spots-full-leaf)")
	cmd.Flags().StringVar(&typeFlag, "type", string(defaults.DetectionType), "Detection type (disease, leaf, both)")
	cmd.Flags().IntVar(&confidence, "confidence", defaults.Confidence, "Minimum confidence, 1-100")
	cmd.Flags().IntVar(&overlap, "overlap", defaults.Overlap, "Box overlap threshold, 1-100")
	cmd.Flags().StringVar(&proxyFlag, "proxy", "", "Proxy base URL (overrides client.proxy_url)")
	cmd.Flags().BoolVar(&includeImage, "include-image", false, "Include the processed image data URI in the output")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

// progressPrinter writes state changes and whole-percent progress steps.
// Snapshots may arrive concurrently and out of order.
type progressPrinter struct {
	w           io.Writer
	mu          sync.Mutex
	lastVersion uint64
	lastState   session.State
	lastPercent int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, lastPercent: -1}
}

func (p *progressPrinter) print(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.Version <= p.lastVersion {
		return
	}
	p.lastVersion = snap.Version

	if snap.State != p.lastState {
		p.lastState = snap.State
		fmt.Fprintf(p.w, "%s\n", snap.State)
	}
	percent := int(math.Floor(snap.Progress))
	if percent > p.lastPercent && snap.Progress > 0 {
		p.lastPercent = percent
		fmt.Fprintf(p.w, "progress %d%%\n", percent)
	}
}
