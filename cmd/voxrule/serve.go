package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voxelrule.ai/internal/sim/batch"
	"voxelrule.ai/internal/transport/observer"
)

var serveCmd = &cobra.Command{
	Use:   "serve [model.yaml]",
	Short: "Run models while streaming their frames to websocket observers",
	Long: `Serve starts the http server (/v1/observe websocket, /v1/bootstrap,
/metrics, /healthz), then runs the model or run list like "run" and publishes
every frame to subscribed observers. It keeps serving after the runs finish
until interrupted, unless --exit is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		jobs, _, err := planJobs(e, args)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		obs := observer.NewServer(observer.ConfigFromTuning(e.tuning), e.palette,
			log.New(os.Stderr, "[observer] ", log.LstdFlags|log.Lmicroseconds))

		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/v1/observe", obs.WSHandler())
		if viper.GetBool("pprof") {
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		}

		addr := viper.GetString("addr")
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		served := make(chan error, 1)
		go func() {
			logger.Printf("listening on %s", addr)
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			served <- err
			cancel()
		}()

		st, err := openSinks(e)
		if err != nil {
			return err
		}
		defer st.Close()
		sinks := append(st.sinks, &batch.ObserverSink{Server: obs})

		if d := viper.GetDuration("delay"); d > 0 {
			logger.Printf("waiting %s for observers", d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
		results, err := runJobs(ctx, e, jobs, sinks)
		printResults(os.Stdout, results, false)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("runs: %v", err)
		}

		if viper.GetBool("exit") {
			cancel()
		} else {
			logger.Printf("runs finished; serving until interrupted")
		}
		return <-served
	},
}

func init() {
	addRunFlags(serveCmd)
	f := serveCmd.Flags()
	f.String("addr", ":8080", "http listen address")
	f.Duration("delay", 0, "wait before starting runs so observers can subscribe")
	f.Bool("exit", false, "stop serving once every run finished")
	f.Bool("pprof", false, "serve /debug/pprof")
}
