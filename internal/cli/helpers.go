package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
	"github.com/valdirmariano/altaper4mance-sub000/internal/daemon"
)

// openService builds a service on the configured store for one-shot
// commands. closeFn flushes pending writes before releasing the store.
func openService(ctx context.Context) (svc *progression.Service, closeFn func() error, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	dispatcher, err := daemon.NewDispatcher(cfg)
	if err != nil {
		return nil, nil, err
	}
	backend, err := daemon.OpenBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var opts []progression.ServiceOption
	if backend.Publisher != nil {
		opts = append(opts, progression.WithPublisher(backend.Publisher))
	}
	svc = progression.NewService(backend.Store, dispatcher, logger, opts...)
	closeFn = func() error {
		ferr := svc.Flush(ctx)
		cerr := backend.Store.Close()
		if ferr != nil {
			return fmt.Errorf("save stats: %w", ferr)
		}
		return cerr
	}
	return svc, closeFn, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
