package core

import (
	"context"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/spark/perf"
	"github.com/encodeous/spark/sparkio"
	"github.com/encodeous/spark/state"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
)

func ReadConfig(configPath string) (*state.SparkCfg, error) {
	var cfg state.SparkCfg
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Bootstrap manages the lifetime of the whole agent. It is only called once.
func Bootstrap(configPath, logPath string, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	cfg, err := ReadConfig(configPath)
	if err != nil {
		panic(err)
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}

	state.ExpandConfig(cfg)
	err = state.ConfigValidator(cfg)
	if err != nil {
		panic(err)
	}
	err = Start(*cfg, level, nil, nil)
	if err != nil {
		panic(err)
	}
}

func Start(cfg state.SparkCfg, logLevel slog.Level, provider sparkio.Provider, initState **state.State) error {
	ctx, cancel := context.WithCancelCause(context.Background())

	dispatch := make(chan func(env *state.State) error, 128)

	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: cfg.Node,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if cfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(cfg.LogPath), 0700)
		if err != nil {
			cancel(err)
			return err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			cancel(err)
			return err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	if provider == nil {
		var err error
		provider, err = sparkio.NewUDPProvider(cfg.McastPort)
		if err != nil {
			cancel(err)
			return err
		}
	}

	s := state.State{
		Modules: make(map[string]state.SparkModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			Cfg:             cfg,
			Log:             logger,
			Clock:           clock.New(),
		},
	}
	if initState != nil {
		*initState = &s
	}

	self := s.Self()
	s.Log.Info("init modules", "domain", self.Domain, "node", self.Node)
	err := initModules(&s, provider)
	if err != nil {
		cancel(err)
		return err
	}
	s.Log.Info("init modules complete")

	if cfg.StatusAddr != "" {
		startStatusServer(&s)
	}

	s.Log.Info("Spark has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
			return
		}
	}()

	return MainLoop(&s, dispatch)
}

func initModules(s *state.State, provider sparkio.Provider) error {
	var modules []state.SparkModule
	modules = append(modules, &Spark{provider: provider})
	if s.Cfg.Fib.Enable {
		modules = append(modules, &Fib{})
	}

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func startStatusServer(s *state.State) {
	sp := Get[*Spark](s)
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/neighbors", sp.handleNeighborsHTTP)
	if s.Cfg.Fib.Enable {
		mux.HandleFunc("/routes", Get[*Fib](s).handleRoutesHTTP)
	}
	srv := &http.Server{Addr: s.Cfg.StatusAddr, Handler: mux}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Warn("status server stopped", "error", err)
		}
	}()
	go func() {
		<-s.Context.Done()
		_ = srv.Close()
	}()
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
