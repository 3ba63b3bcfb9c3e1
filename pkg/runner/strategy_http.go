package runner

import (
	"context"
	"fmt"
	mrand "math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/event"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
	"github.com/pardeema/bot-attack-simulator/pkg/transport"
)

// userAgentPool is the fixed set of spoofed browser identities used by the
// stealth strategy.
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

const acceptLanguage = "en-US,en;q=0.9"

// responseSnippetLimit caps the response body surfaced in outcomes.
const responseSnippetLimit = 100

// httpStrategy performs one plain HTTP POST per iteration. With spoofing
// enabled it presents randomized browser headers and an optional cookie
// override instead of the static BotSim identity.
type httpStrategy struct {
	cfg    *config.RunConfig
	plan   credentialPlan
	sender transport.Sender
	log    *logging.Logger
	spoof  bool
}

func (s *httpStrategy) Execute(ctx context.Context, iteration int, emit Emitter) event.Outcome {
	start := time.Now()
	password, known := s.plan.passwordFor(iteration)
	body := requestBody(s.cfg, iteration, password)
	headers := s.headersFor(iteration)

	outcome := event.Outcome{
		ID:             iteration,
		URL:            s.cfg.FullURL(),
		Method:         http.MethodPost,
		Timestamp:      start.UnixMilli(),
		RequestBody:    displayBody(body, known),
		RequestHeaders: headers,
	}

	resp, err := s.sender.Send(ctx, http.MethodPost, s.cfg.FullURL(), headers, body, transport.DefaultTimeout)
	if err != nil {
		outcome.Status = event.StatusError
		outcome.StatusText = "Network Error"
		outcome.Error = truncateError(err)
		emit(event.Progress{ID: iteration, Message: fmt.Sprintf("Error: %s", outcome.Error)})
		s.log.Warn(logging.CategoryIteration, "iteration_failed", outcome.Error, map[string]any{
			"iteration": iteration,
		})
		return outcome
	}

	outcome.Status = event.Status(resp.Status)
	outcome.StatusText = resp.StatusText
	outcome.ResponseHeaders = resp.Headers
	outcome.ResponseSnippet = resp.Snippet(responseSnippetLimit)
	s.log.Debug(logging.CategoryIteration, "iteration_complete", "", map[string]any{
		"iteration": iteration,
		"status":    resp.Status,
	})
	return outcome
}

func (s *httpStrategy) headersFor(iteration int) map[string]string {
	if !s.spoof && !s.cfg.Options.RandomizeHeaders {
		return map[string]string{
			"User-Agent":   fmt.Sprintf("BotSim/1.0 (Req %d)", iteration),
			"Accept":       "application/json, text/plain, */*",
			"Content-Type": "application/json",
		}
	}

	headers := map[string]string{
		"User-Agent":      userAgentPool[mrand.IntN(len(userAgentPool))],
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": acceptLanguage,
		"Content-Type":    "application/json",
		"Referer":         s.refererURL(),
	}
	if s.spoof {
		if cookie := strings.TrimSpace(s.cfg.Options.Cookie); cookie != "" {
			headers["Cookie"] = cookie
		}
	}
	return headers
}

// refererURL fakes the page a real browser would have come from.
func (s *httpStrategy) refererURL() string {
	base := strings.TrimSuffix(s.cfg.TargetURL, "/")
	if s.cfg.IsLogin() {
		return base + "/login"
	}
	return base + "/cart"
}
