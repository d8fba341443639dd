// Package metadata resolves app identities into launch metadata by
// calling the resolver service. Resolution is the only network hop on
// the launch path, so it runs behind a circuit breaker; failures are
// surfaced as typed errors and never retried automatically.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/embedkit/embedkit/internal/infrastructure/config"
	"github.com/embedkit/embedkit/internal/infrastructure/logging"
	"github.com/embedkit/embedkit/internal/infrastructure/resilience"
	"github.com/embedkit/embedkit/internal/shared/types"
)

// Resolver talks to the metadata resolver service over HTTP/JSON. It
// satisfies the lifecycle's resolver interface.
type Resolver struct {
	client  *resty.Client
	breaker *resilience.Breaker
	log     *logging.Logger
}

// New creates a resolver for the configured service.
func New(cfg config.ResolverConfig, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.NewNop()
	}
	log = log.Named("resolver")

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout)*time.Second).
		SetHeader("Accept", "application/json")

	breaker := resilience.New("resolver", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		Probes:    2,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Resolver{client: client, breaker: breaker, log: log}
}

// wireError is the error body the resolver service returns alongside
// non-2xx statuses.
type wireError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// launchURLRequest is the body of launch URL resolution calls.
type launchURLRequest struct {
	AppID      string            `json:"app_id,omitempty"`
	BotID      string            `json:"bot_id,omitempty"`
	AppName    string            `json:"app_name,omitempty"`
	StartParam string            `json:"start_param,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	PeerID     string            `json:"peer_id,omitempty"`
}

type launchURLResponse struct {
	URL string `json:"url"`
}

// ResolveApp fetches metadata for a directly addressed app.
func (r *Resolver) ResolveApp(ctx context.Context, appID string) (*types.AppMetadata, error) {
	return r.fetchMetadata(ctx, "/v1/apps/"+url.PathEscape(appID))
}

// ResolveBotApp fetches metadata for a bot-addressed app.
func (r *Resolver) ResolveBotApp(ctx context.Context, botIDOrName, appName string) (*types.AppMetadata, error) {
	path := fmt.Sprintf("/v1/bots/%s/apps/%s", url.PathEscape(botIDOrName), url.PathEscape(appName))
	return r.fetchMetadata(ctx, path)
}

func (r *Resolver) fetchMetadata(ctx context.Context, path string) (*types.AppMetadata, error) {
	meta, err := resilience.Do(r.breaker, func() (*types.AppMetadata, error) {
		var (
			meta types.AppMetadata
			werr wireError
		)
		resp, err := r.client.R().
			SetContext(ctx).
			SetResult(&meta).
			SetError(&werr).
			Get(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, r.asResolutionError(resp, &werr)
		}
		meta.ResolvedAt = time.Now()
		return &meta, nil
	})
	if err != nil {
		return nil, r.wrap(err)
	}
	return meta, nil
}

// ResolveLaunchURL asks the service for the concrete launch URL of a
// resolved app, folding in the launch request's parameters.
func (r *Resolver) ResolveLaunchURL(ctx context.Context, meta *types.AppMetadata, req *types.LaunchRequest) (string, error) {
	if meta.LaunchURL != "" && req.StartParam == "" && len(req.Params) == 0 {
		return meta.LaunchURL, nil
	}

	body := launchURLRequest{
		AppID:      meta.AppID,
		BotID:      meta.BotID,
		AppName:    meta.ShortName,
		StartParam: req.StartParam,
		Params:     req.Params,
		Mode:       string(req.Mode),
	}
	if req.Peer != nil {
		body.PeerID = req.Peer.PeerID
	}

	launchURL, err := resilience.Do(r.breaker, func() (string, error) {
		var (
			out  launchURLResponse
			werr wireError
		)
		resp, err := r.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			SetError(&werr).
			Post("/v1/launch-url")
		if err != nil {
			return "", err
		}
		if resp.IsError() {
			return "", r.asResolutionError(resp, &werr)
		}
		return out.URL, nil
	})
	if err != nil {
		return "", r.wrap(err)
	}
	return launchURL, nil
}

// ResolvePageLaunchURL resolves an ad-hoc page launch, following the
// service's redirect decision for the raw URL.
func (r *Resolver) ResolvePageLaunchURL(ctx context.Context, rawURL, pageID string) (string, error) {
	launchURL, err := resilience.Do(r.breaker, func() (string, error) {
		var (
			out  launchURLResponse
			werr wireError
		)
		resp, err := r.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"url": rawURL, "page_id": pageID}).
			SetResult(&out).
			SetError(&werr).
			Post("/v1/page-url")
		if err != nil {
			return "", err
		}
		if resp.IsError() {
			return "", r.asResolutionError(resp, &werr)
		}
		if out.URL == "" {
			return rawURL, nil
		}
		return out.URL, nil
	})
	if err != nil {
		return "", r.wrap(err)
	}
	return launchURL, nil
}

// asResolutionError maps a non-2xx response into the typed error the
// lifecycle understands.
func (r *Resolver) asResolutionError(resp *resty.Response, werr *wireError) error {
	code := werr.Error.Code
	if code == 0 {
		code = resp.StatusCode()
	}
	msg := werr.Error.Message
	if msg == "" {
		msg = resp.Status()
	}
	return &types.ResolutionError{Code: code, Message: msg}
}

// wrap normalizes transport and breaker errors into ResolutionError,
// keeping typed errors as they are. Context cancellation passes through
// so a superseded attach is not misreported.
func (r *Resolver) wrap(err error) error {
	var rerr *types.ResolutionError
	if errors.As(err, &rerr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.log.Warn("resolution transport failure", zap.Error(err))
	return &types.ResolutionError{Code: -1, Message: err.Error()}
}
