package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/TheQwirl/qwirl-session/auth"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/internal/utils"
	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/TheQwirl/qwirl-session/token"
	"github.com/spf13/cobra"
)

var errSignedOut = qerrors.Wrapf(qerrors.ErrNotAuthenticated, "run qwirlctl import")

func importCmd(opts *options) *cobra.Command {
	var access, refresh string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store an access/refresh token pair",
		Long:  `Store a session issued elsewhere (for example copied from the browser cookies) and check it against the API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openSession(opts)
			if err != nil {
				return err
			}
			defer cs.Close()

			creds := sessions.Credentials{AccessToken: access, RefreshToken: refresh}
			if err := cs.Login(cmd.Context(), creds); err != nil {
				return err
			}
			user := utils.Value(cs.State().User)
			success("Signed in as %s (%s)", user.Name, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&access, "access-token", "", "access token")
	cmd.Flags().StringVar(&refresh, "refresh-token", "", "refresh token")
	_ = cmd.MarkFlagRequired("access-token")
	_ = cmd.MarkFlagRequired("refresh-token")

	return cmd
}

func meCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openSession(opts)
			if err != nil {
				return err
			}
			defer cs.Close()

			state, err := cs.Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			if !state.Authenticated() {
				return errSignedOut
			}
			return printJSON(state.User)
		},
	}
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path with the stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openSession(opts)
			if err != nil {
				return err
			}
			defer cs.Close()

			raw, err := cs.API().Raw(cmd.Context(), http.MethodGet, args[0])
			if err != nil {
				if errors.Is(err, qerrors.ErrUnauthorized) {
					return fmt.Errorf("%w: %w", errSignedOut, err)
				}
				return err
			}
			return printRaw(raw)
		},
	}
}

func refreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Trade the refresh token for a new pair now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openSession(opts)
			if err != nil {
				return err
			}
			defer cs.Close()

			if cs.Store().RefreshToken() == "" {
				return errSignedOut
			}
			if _, err := cs.Refresh(cmd.Context()); err != nil {
				return err
			}
			success("Session refreshed")
			printExpiry(cs.Store().AccessToken())
			return nil
		},
	}
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openSession(opts)
			if err != nil {
				return err
			}
			defer cs.Close()

			cs.Logout(cmd.Context())
			success("Signed out of %s", cs.apiURL)
			return nil
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what is stored, without calling the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openSession(opts)
			if err != nil {
				return err
			}
			defer cs.Close()

			creds := cs.Store().Credentials()
			fmt.Printf("API:     %s\n", cs.apiURL)
			if creds.Empty() {
				fmt.Printf("Session: %s\n", auth.StatusUnauthenticated)
				return nil
			}
			fmt.Printf("Session: stored (access token: %t, refresh token: %t)\n", creds.AccessToken != "", creds.RefreshToken != "")
			if creds.User != nil {
				fmt.Printf("User:    %s (%s)\n", creds.User.Name, creds.User.ID)
			}
			printExpiry(creds.AccessToken)
			return nil
		},
	}
}

func printExpiry(accessToken string) {
	exp, ok := token.AccessTokenExpiry(accessToken)
	if !ok {
		info("access token expiry unknown")
		return
	}
	info("access token expires %s (in %s)", exp.Local().Format(time.RFC1123), time.Until(exp).Round(time.Second))
}
