package main

import (
	"context"
	"flag"
	"log"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"arclink/internal/journal"
	"arclink/internal/ops"
	"arclink/pkg/conn"
	"arclink/pkg/rest"
	"arclink/pkg/wsclient"
)

// probe exercises the client layer against a running ARCS backend: a few
// REST calls through the retry pipeline, then a live socket subscription
// until interrupted.
func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	topic := flag.String("topic", "simulation:probe", "Topic to subscribe")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if addr := loaded.Profiling.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "arclink/probe",
			ServerAddress:   addr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	jnl := journal.New(buildSink(loaded.Journal), loaded.Journal.QueueSize)
	if err := jnl.Start(ctx); err != nil {
		log.Fatalf("journal start failed: %v", err)
	}
	defer jnl.Close()

	restCfg := loaded.REST
	restCfg.Metrics = rest.NewMetrics(prometheus.DefaultRegisterer)
	api, err := rest.New(restCfg)
	if err != nil {
		log.Fatalf("rest client init failed: %v", err)
	}

	probeRequests(ctx, api, jnl)

	socket, err := wsclient.New(loaded.Socket)
	if err != nil {
		log.Fatalf("socket init failed: %v", err)
	}
	lifecycle := socket.Events(64, wsclient.OverflowDropOldest)
	go jnl.ConsumeSocket(lifecycle)
	traffic := socket.Events(1024, wsclient.OverflowDropOldest)
	go printEvents(traffic)

	if err := socket.Subscribe(*topic); err != nil {
		logs.Errorf("subscribe %q: %v", *topic, err)
	}
	if err := socket.Connect(); err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	<-sys.Shutdown()
	socket.Shutdown()
}

func buildSink(cfg ops.JournalConfig) journal.Sink {
	if cfg.DSN == "" {
		return journal.NewMemorySink()
	}
	sink, err := journal.NewPostgresSink(conn.PostgresOption{ConnString: cfg.DSN})
	if err != nil {
		logs.Errorf("journal sink unavailable, keeping entries in memory: %v", err)
		return journal.NewMemorySink()
	}
	return sink
}

func probeRequests(ctx context.Context, api *rest.Client, jnl *journal.Journal) {
	type call struct {
		method string
		path   string
		body   any
	}
	calls := []call{
		{"GET", "/api/training/runs", nil},
		{"POST", "/api/kinematics/fk", map[string]any{"joints": []float64{0, 0.5, -0.5, 0, 1.2, 0}}},
	}

	for _, c := range calls {
		start := time.Now()
		resp, err := api.Do(ctx, rest.Request{Method: c.method, Path: c.path, Body: c.body})
		elapsed := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if recordErr := jnl.RecordRequest(c.method, c.path, status, elapsed, err); recordErr != nil {
			logs.Warnf("journal: %v", recordErr)
		}
		if err != nil {
			logs.Errorf("%s %s: %v", c.method, c.path, err)
			continue
		}
		logs.Infof("%s %s -> %d in %s", c.method, c.path, resp.StatusCode, elapsed)
	}
}

func printEvents(consumer *wsclient.Consumer) {
	for {
		ev, err := consumer.Next()
		if err != nil {
			return
		}
		switch ev.Kind {
		case wsclient.EventOpen:
			logs.Info("socket open")
		case wsclient.EventClosed:
			logs.Infof("socket closed (%d %q), exhausted=%v", ev.Code, ev.Reason, ev.Exhausted)
		case wsclient.EventError:
			logs.Errorf("socket error: %v", ev.Err)
		case wsclient.EventMessage:
			logs.Infof("message %s: %s", ev.Message.Type, ev.Message.Body())
		}
	}
}
