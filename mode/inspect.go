package mode

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/khaledhikmat/vs-stream/pipeline"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

// The inspector starts every configured stream without consumers and prints
// a health table every stats period.
func Inspect(canxCtx context.Context, svcs pipeline.ServicesFactory, mgr *streaming.StreamManager) error {
	cfgs, readers, err := startStreams(canxCtx, svcs, mgr, "inspect")
	if err != nil {
		return err
	}

	names := map[string]string{}
	for i, r := range readers {
		names[r.Reader().ID()] = cfgs[i].Name
	}

	period := time.Duration(svcs.CfgSvc.GetStatsPeriodicTimeout()) * time.Second
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"inspector context cancelled",
			)

			closeCtx, closeCanxFn := context.WithTimeout(context.Background(), time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime())*time.Second)
			defer closeCanxFn()
			err := mgr.CloseContext(closeCtx)

			printHealth(os.Stdout, names, readers)
			procStats(svcs.DataSvc, mgr.Stats())
			return err

		case <-ticker.C:
			printHealth(os.Stdout, names, readers)
			procStats(svcs.DataSvc, mgr.Stats())
		}
	}
}

var (
	headerColor  = color.New(color.Bold, color.FgCyan)
	aliveColor   = color.New(color.FgGreen)
	closingColor = color.New(color.FgYellow)
	closedColor  = color.New(color.FgRed)
)

func stateColor(state streaming.State) *color.Color {
	switch state {
	case streaming.StateAlive:
		return aliveColor
	case streaming.StateClosing:
		return closingColor
	default:
		return closedColor
	}
}

func printHealth(w io.Writer, names map[string]string, readers []*streaming.SyncedStreamReader) {
	sorted := make([]*streaming.SyncedStreamReader, len(readers))
	copy(sorted, readers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	headerColor.Fprintf(w, "%-6s %-20s %-8s %8s %5s %8s %6s %6s %10s  %s\n",
		"ID", "NAME", "STATE", "FRAMES", "FPS", "SEQ", "RETRY", "RECON", "STATUS", "LAST ERROR")

	for _, r := range sorted {
		stats := r.Stats()
		snap := r.Snapshot()

		statusAge := "-"
		if age, ok := snap.StatusAge(); ok {
			statusAge = age.Truncate(time.Millisecond).String()
		}

		state := r.Reader().State()
		fmt.Fprintf(w, "%-6d %-20s %s %8d %5d %8d %6d %6d %10s  %s\n",
			stats.StreamID,
			names[stats.ReaderID],
			stateColor(state).Sprintf("%-8s", state),
			stats.Frames,
			stats.FPS,
			stats.LastSeq,
			stats.TransientErrors,
			stats.Reconnects,
			statusAge,
			stats.LastError,
		)
	}
}
