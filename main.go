package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-stream/decoder/cvcapture"
	"github.com/khaledhikmat/vs-stream/mode"
	"github.com/khaledhikmat/vs-stream/pipeline"
	"github.com/khaledhikmat/vs-stream/service/config"
	"github.com/khaledhikmat/vs-stream/service/data"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/service/status"
	"github.com/khaledhikmat/vs-stream/streaming"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"viewer":  mode.Viewer,
	"inspect": mode.Inspect,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Error("error loading .env file", slog.Any("error", xerrors.New(err.Error())))
			panic("error loading .env file")
		}
	}

	// The .env file may carry the log settings
	lgr.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE"))

	modeType := "viewer"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// OpenCV backed decoder
	cvcapture.Register()

	// Create the services needed for the mode processor
	// Config service
	cfgSvc := config.NewEnv()
	// Data service
	dataSvc := data.NewFilesDB(cfgSvc)
	// Status service
	statusSvc := status.NewTimed(canxCtx, cfgSvc, dataSvc)
	defer statusSvc.Finalize()

	svcs := pipeline.ServicesFactory{
		CfgSvc:  cfgSvc,
		DataSvc: dataSvc,
	}

	mgr := streaming.NewStreamManager(statusSvc,
		streaming.WithDefaultDecoder(cvcapture.Name),
		streaming.WithMaxStreams(cfgSvc.GetMaxStreams()),
		streaming.WithManagerRetryPolicy(streaming.RetryPolicy{
			MaxRetries:     cfgSvc.GetDecodeMaxRetries(),
			RetryDelay:     time.Duration(cfgSvc.GetDecodeRetryDelayMsecs()) * time.Millisecond,
			MaxRetryDelay:  time.Duration(cfgSvc.GetDecodeMaxRetryDelayMsecs()) * time.Millisecond,
			ReconnectAfter: cfgSvc.GetDecodeReconnectAfter(),
			ReadTimeout:    time.Duration(cfgSvc.GetDecodeReadTimeoutMsecs()) * time.Millisecond,
		}),
	)

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, mgr)
	}()

	// Wait for cancellation or mode proc
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"stream client context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"stream client mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
			goto resume
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are existing
resume:
	// Cancel the context if not already cancelled
	if canxCtx.Err() == nil {
		// Force cancel the context
		canxFn()
	}

	lgr.Logger.Info(
		"stream client is waiting for all go routines to exit",
	)

	// The only way to exit the main function is to wait for the shutdown
	// duration
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"stream client shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)

			return

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"stream client mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
		}
	}
}
