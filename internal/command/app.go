// Package command implements the azblobber command line.
package command

import (
	"errors"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/urfave/cli/v2"

	"github.com/nkazure/azblobber/auth"
	"github.com/nkazure/azblobber/blob"
	"github.com/nkazure/azblobber/internal"
	"github.com/nkazure/azblobber/storage/backend/azure"
	"github.com/nkazure/azblobber/storage/common"
)

// Environment variables read by the command line in addition to the auth ones.
const (
	EnvAccountURL = "blob_AccountURL"
	EnvContainer  = "blob_Container"
)

// Exit codes by error kind.
const (
	ExitOK = iota
	ExitFailure
	ExitConfig
	ExitAuth
	ExitNotFound
	ExitAlreadyExists
)

const name = "azblobber"

// NewApp returns the command line application. opts are added to every client it creates.
func NewApp(opts ...blob.Option) *cli.App {
	a := &app{opts: opts}

	return &cli.App{
		Name:                 name,
		Usage:                "read, write and list blobs in an Azure Storage account",
		HideVersion:          true,
		EnableBashCompletion: true,
		Flags:                a.flags(),
		Commands:             a.commands(),
		// Errors are reported by the caller.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch common.KindOf(err) {
	case common.ErrConfig:
		return ExitConfig
	case common.ErrAuth:
		return ExitAuth
	case common.ErrNotFound:
		return ExitNotFound
	case common.ErrAlreadyExists:
		return ExitAlreadyExists
	default:
		return ExitFailure
	}
}

type app struct {
	opts []blob.Option
}

func (a *app) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log.level",
			Usage:   "log filtering level. ('error', 'warn', 'info', 'debug', 'none')",
			Value:   internal.LogLevelWarn,
			EnvVars: []string{"AZBLOBBER_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log.format",
			Usage:   "log format to use. ('logfmt', 'json')",
			Value:   internal.LogFormatLogfmt,
			EnvVars: []string{"AZBLOBBER_LOG_FORMAT"},
		},
		&cli.BoolFlag{
			Name:  "log.sdk",
			Usage: "also log the storage SDK requests at debug level",
		},

		// Account.
		&cli.StringFlag{
			Name:    "account-url",
			Usage:   "blob service endpoint, e.g. https://myaccount.blob.core.windows.net/",
			EnvVars: []string{EnvAccountURL},
		},
		&cli.StringFlag{
			Name:    "container",
			Aliases: []string{"c"},
			Usage:   "default container",
			EnvVars: []string{EnvContainer},
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "maximum retries of a failed request, a negative value disables retries",
			Value: azure.DefaultBlobMaxRetryRequests,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "timeout of a single storage operation",
			Value: 5 * time.Minute,
		},

		// Credentials.
		&cli.StringFlag{
			Name:    "tenant-id",
			Usage:   "directory (tenant) id of the app registration",
			EnvVars: []string{auth.EnvTenantID},
		},
		&cli.StringFlag{
			Name:    "client-id",
			Usage:   "application (client) id",
			EnvVars: []string{auth.EnvClientID},
		},
		&cli.StringFlag{
			Name:    "client-secret",
			Usage:   "client secret",
			EnvVars: []string{auth.EnvClientSecret},
		},
		&cli.StringFlag{
			Name:    "oidc-token",
			Usage:   "OIDC token used as client assertion instead of the client secret",
			EnvVars: []string{auth.EnvOIDCToken},
		},
		&cli.StringFlag{
			Name:    "authority-host",
			Usage:   "identity provider base URL",
			EnvVars: []string{auth.EnvAuthorityHost},
		},
	}
}

func (a *app) logger(c *cli.Context) log.Logger {
	return internal.NewLoggerTo(c.App.ErrWriter, c.String("log.level"), c.String("log.format"), name)
}

func (a *app) client(c *cli.Context) (*blob.ContainerClient, log.Logger, error) {
	logger := a.logger(c)

	opts := []blob.Option{blob.WithOperationTimeout(c.Duration("timeout"))}
	if c.Bool("log.sdk") {
		opts = append(opts, blob.WithSDKLogging())
	}

	client, err := blob.New(logger, blob.Config{
		AccountURL:    c.String("account-url"),
		ContainerName: c.String("container"),
		Auth: auth.Config{
			TenantID:      c.String("tenant-id"),
			ClientID:      c.String("client-id"),
			ClientSecret:  c.String("client-secret"),
			OIDCToken:     c.String("oidc-token"),
			AuthorityHost: c.String("authority-host"),
		},
		MaxRetryRequests: c.Int("max-retries"),
	}, append(opts, a.opts...)...)
	if err != nil {
		return nil, nil, err
	}

	return client, logger, nil
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return common.NewError(common.ErrConfig, c.Command.Name, errors.New("usage: "+c.Command.Name+" "+c.Command.ArgsUsage))
	}

	return nil
}
