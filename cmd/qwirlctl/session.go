package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/TheQwirl/qwirl-session/auth"
	"github.com/TheQwirl/qwirl-session/internal/credstore"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/rs/zerolog/log"
)

// cliSession is an auth.Session whose credentials are written back to the
// credential database whenever they change.
type cliSession struct {
	*auth.Session
	apiURL      string
	store       *credstore.Store
	unsubscribe func()
}

func openSession(opts *options) (*cliSession, error) {
	apiURL := strings.TrimRight(strings.TrimSpace(opts.apiURL), "/")
	if apiURL == "" {
		return nil, qerrors.Wrapf(qerrors.ErrMissingBaseURL, "set --api or NEXT_PUBLIC_API_URL")
	}

	path := opts.dbPath
	if path == "" {
		var err error
		if path, err = credstore.DefaultPath(); err != nil {
			return nil, err
		}
	}
	store, err := credstore.Open(path)
	if err != nil {
		return nil, err
	}
	creds, err := store.Load(apiURL)
	if err != nil {
		store.Close()
		return nil, err
	}

	cs := &cliSession{
		Session: auth.NewSession(apiURL, creds),
		apiURL:  apiURL,
		store:   store,
	}
	cs.unsubscribe = cs.Store().Subscribe(func(bool) {
		if err := store.Save(apiURL, cs.Store().Credentials()); err != nil {
			log.Error().Err(err).Msg("saving session")
		}
	})
	return cs, nil
}

func (cs *cliSession) Close() error {
	cs.unsubscribe()
	return cs.store.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRaw(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Println(string(raw))
		return err
	}
	return printJSON(v)
}
