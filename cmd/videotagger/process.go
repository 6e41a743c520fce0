package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zombar/videotagger/internal/events"
	"github.com/zombar/videotagger/internal/pipeline"
)

var processFlags struct {
	numVideos   int
	numComments int
	numTags     int
	strength    float64
}

var processCmd = &cobra.Command{
	Use:   "process VIDEO_ID...",
	Short: "Run a full session in this process without a queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProcess,
}

func init() {
	f := processCmd.Flags()
	f.IntVar(&processFlags.numVideos, "num-videos", 0, "top videos to collect per channel (default from config)")
	f.IntVar(&processFlags.numComments, "num-comments", 0, "comments to keep per video (default from config)")
	f.IntVar(&processFlags.numTags, "num-tags", 0, "tags to request per video (default from config)")
	f.Float64Var(&processFlags.strength, "strength", 0, "clustering strength (default from config)")
}

// printPublisher echoes session updates to the terminal
type printPublisher struct{}

func (printPublisher) Publish(event events.SessionUpdateEvent) {
	fmt.Printf("%s  %s\n", event.Timestamp.Format("15:04:05"), event.Message)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	proc, err := a.processor(printPublisher{}, nil, false)
	if err != nil {
		return err
	}

	req := pipeline.Request{
		VideoIDs:           args,
		NumVideos:          orDefault(processFlags.numVideos, a.cfg.DefaultNumVideos),
		NumComments:        orDefault(processFlags.numComments, a.cfg.DefaultNumComments),
		NumTags:            orDefault(processFlags.numTags, a.cfg.DefaultNumTags),
		ClusteringStrength: a.cfg.DefaultClusteringStrength,
	}
	if cmd.Flags().Changed("strength") {
		req.ClusteringStrength = processFlags.strength
	}

	sess, err := pipeline.RunSession(ctx, proc, req, a.cfg.WorkerConcurrency)
	if err != nil {
		return err
	}
	fmt.Printf("session %s %s\n", sess.ID, sess.Status)
	return nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
