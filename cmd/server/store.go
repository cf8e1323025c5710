package main

import (
	"fmt"
	"log/slog"

	"github.com/Tyrowin/huddle/internal/config"
	"github.com/Tyrowin/huddle/internal/identity"
	"github.com/Tyrowin/huddle/internal/store"
	"github.com/Tyrowin/huddle/internal/store/badgerstore"
	"github.com/Tyrowin/huddle/internal/store/sqlitestore"
)

const tokenIssuer = "huddle"

func openStore(cfg config.StoreConfig, log *slog.Logger) (store.MessageStore, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		log.Warn("using in-memory message store; history is lost on exit")
		return store.NewMemoryStore(), nil
	case config.StoreBadger:
		st, err := badgerstore.Open(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreSQLite:
		st, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newAuthenticator(cfg config.AuthConfig) identity.Authenticator {
	if cfg.Mode == config.AuthToken {
		return identity.NewTokenAuthenticator(cfg.Secret, tokenIssuer)
	}
	return identity.MetadataAuthenticator{}
}
