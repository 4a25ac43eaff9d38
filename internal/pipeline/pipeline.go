package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/mflow/mflow/internal/app"
	"github.com/mflow/mflow/pkg/core"
	"github.com/mflow/mflow/pkg/flow"
	"github.com/mflow/mflow/pkg/proxy"
	"github.com/mflow/mflow/pkg/stream"
	"github.com/mflow/mflow/pkg/tap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config - one `pipelines:` item
//
//	pipelines:
//	  copy:
//	    source: file:///tmp/in.ts
//	    mime_type: video/mp2t
//	    kernel: chunker:1316
//	    sink: /tmp/out.ts
type Config struct {
	Source    string       `yaml:"source"`
	MimeType  string       `yaml:"mime_type"`
	ChunkSize int          `yaml:"chunk_size"` // source read size
	Kernel    string       `yaml:"kernel"`     // identity, chunker[:size], drop or proxy
	Proxy     proxy.Config `yaml:"proxy"`
	Sink      string       `yaml:"sink"` // file path, empty or "-" for stdout
	Inline    bool         `yaml:"inline"` // processors run on the reader goroutine
}

func Init() {
	var cfg struct {
		Pipelines map[string]Config `yaml:"pipelines"`
		Metrics   struct {
			Listen string `yaml:"listen"`
		} `yaml:"metrics"`
		Proxy struct {
			Listen string `yaml:"listen"`
			Path   string `yaml:"path"`
		} `yaml:"proxy"`
	}

	cfg.Proxy.Path = "/proxy"

	app.LoadConfig(&cfg)

	log = app.GetLogger("pipeline")

	pipelines = cfg.Pipelines
	metricsListen = cfg.Metrics.Listen
	proxyListen = cfg.Proxy.Listen
	proxyPath = cfg.Proxy.Path

	registry = prometheus.NewRegistry()

	var err error
	if metrics, err = tap.NewMetrics(registry); err != nil {
		log.Error().Err(err).Caller().Send()
	}
}

// Run - serve metrics and proxy endpoints, run every pipeline.
// Returns when ctx is canceled or, without endpoints, when all pipelines complete.
func Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if metricsListen != "" {
		handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		g.Go(func() error {
			return serve(ctx, metricsListen, handler)
		})
	}

	if proxyListen != "" {
		mux := http.NewServeMux()
		mux.Handle(proxyPath, proxy.Handler(NewKernel))
		g.Go(func() error {
			return serve(ctx, proxyListen, mux)
		})
	}

	for name, cfg := range pipelines {
		name, cfg := name, cfg
		g.Go(func() error {
			p, err := New(ctx, name, cfg, metrics)
			if err != nil {
				log.Error().Err(err).Msgf("[pipeline] name=%s", name)
				return nil
			}

			result, err := p.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msgf("[pipeline] name=%s", name)
				return nil
			}

			log.Info().Msgf("[pipeline] name=%s result=%s data=%v", name, result.Code, result.Data)
			return nil
		})
	}

	return g.Wait()
}

// Pipeline - source reader, one processor and sink writer in a Flow
type Pipeline struct {
	flow.BaseHooks

	Name string

	cfg  Config
	ctx  context.Context
	flow *flow.Flow

	reader *stream.ReaderSocket
	writer *stream.WriterSocket
	proc   *core.Processor
	sink   io.WriteCloser

	closers []func()
}

func New(ctx context.Context, name string, cfg Config, metrics *tap.Metrics) (*Pipeline, error) {
	p := &Pipeline{Name: name, cfg: cfg, ctx: ctx}

	if cfg.Kernel == "proxy" {
		px, err := proxy.Dial(ctx, cfg.Proxy)
		if err != nil {
			return nil, err
		}
		p.proc = px.Processor
		p.closers = append(p.closers, px.Close)
	} else {
		var err error
		if p.proc, err = NewKernel(cfg.Kernel); err != nil {
			return nil, err
		}
	}

	if p.proc.NumInputs() == 0 || p.proc.NumOutputs() == 0 {
		for _, f := range p.closers {
			f()
		}
		return nil, errors.New("pipeline: processor without input or output")
	}

	var desc *core.SocketDescriptor
	if cfg.MimeType != "" {
		desc = core.NewSocketDescriptor(cfg.MimeType)
	}

	p.reader = stream.NewReaderSocket(desc, core.WithName(name+"/source"))
	if cfg.ChunkSize > 0 {
		p.reader.ChunkSize = cfg.ChunkSize
	}
	p.writer = stream.NewWriterSocket(nil, core.WithName(name+"/sink"))

	opts := []flow.Option{flow.WithName(name), flow.WithLogger(log)}
	if cfg.Inline {
		opts = append(opts, flow.WithExecutor(core.Inline))
	}

	p.flow = flow.New(p, opts...)
	p.flow.Add(p.proc)
	p.flow.AddExternalSocket(p.reader, p.writer)

	if err := p.reader.Connect(p.proc.In(0)); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.proc.Out(0).Connect(p.writer.InputSocket); err != nil {
		p.Close()
		return nil, err
	}

	if metrics != nil {
		metrics.Attach(p.reader, p.writer)
	}

	p.writer.OnEOS(func() {
		p.flow.SetCompleted(flow.CompletionResult{Code: flow.ResultOK, Data: p.writer.Written()})
	})

	return p, nil
}

func (p *Pipeline) Flow() *flow.Flow {
	return p.flow
}

// Run - VOID -> WAITING (open source and sink) -> FLOWING until the sink gets EOS
func (p *Pipeline) Run(ctx context.Context) (flow.CompletionResult, error) {
	p.ctx = ctx
	defer p.Close()

	if err := p.flow.ChangeState(ctx, flow.StateWaiting); err != nil {
		return p.failed(ctx, err)
	}
	if err := p.flow.WhenSocketsReady(ctx); err != nil {
		return p.failed(ctx, err)
	}
	if err := p.flow.ChangeState(ctx, flow.StateFlowing); err != nil {
		return p.failed(ctx, err)
	}

	return p.flow.Wait(ctx)
}

func (p *Pipeline) OnVoidToWaiting(done func()) {
	go func() {
		if err := p.reader.Load(p.ctx, p.cfg.Source); err != nil {
			p.flow.Fail(err)
			return
		}

		sink, err := openSink(p.cfg.Sink)
		if err != nil {
			p.flow.Fail(err)
			return
		}
		p.sink = sink
		p.writer.Attach(sink)

		done()
	}()
}

func (p *Pipeline) OnWaitingToFlowing(done func()) {
	go func() {
		done()

		if err := p.reader.Run(p.ctx); err != nil {
			p.flow.Fail(err)
		}
	}()
}

func (p *Pipeline) Close() {
	p.flow.Close()
	p.reader.Close()
	p.writer.Close()

	for _, f := range p.closers {
		f()
	}
	p.closers = nil

	if p.sink != nil {
		_ = p.sink.Close()
	}
}

// failed - a state change error after Fail is the flow error
func (p *Pipeline) failed(ctx context.Context, err error) (flow.CompletionResult, error) {
	if _, ok := p.flow.Result(); ok {
		return p.flow.Wait(ctx)
	}
	p.flow.Fail(err)
	return p.flow.Wait(ctx)
}

func openSink(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info().Str("addr", addr).Msg("[pipeline] listen")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var log zerolog.Logger = app.GetLogger("pipeline")

var (
	pipelines     map[string]Config
	metricsListen string
	proxyListen   string
	proxyPath     string
	registry      *prometheus.Registry
	metrics       *tap.Metrics
)
