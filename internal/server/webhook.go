package server

import (
	"log"
	"net/http"

	gh "github.com/google/go-github/v80/github"
	"github.com/labstack/echo/v4"
)

// WebhookHandler receives GitHub events for an organization and alerts the
// code automations of the repository.
type WebhookHandler struct {
	Secret   []byte
	GitHub   PullRequests
	Notifier Notifier
	Logger   *log.Logger
	engine   *alertEngine
}

func (h *WebhookHandler) Register(g *echo.Group) {
	g.POST("/github/:org", h.github)
}

func (h *WebhookHandler) github(c echo.Context) error {
	if len(h.Secret) == 0 {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webhook secret is not configured")
	}
	org := c.Param("org")
	payload, err := gh.ValidatePayload(c.Request(), h.Secret)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}
	event, err := gh.ParseWebHook(gh.WebHookType(c.Request()), payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	switch ev := event.(type) {
	case *gh.PingEvent:
		return c.JSON(http.StatusOK, map[string]string{"status": "pong"})
	case *gh.PullRequestEvent:
		switch ev.GetAction() {
		case "opened", "synchronize", "reopened":
		default:
			return c.JSON(http.StatusAccepted, map[string]string{"status": "ignored"})
		}
		if h.GitHub == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "github client is not configured")
		}
		ctx := c.Request().Context()
		owner, repo := ev.GetRepo().GetOwner().GetLogin(), ev.GetRepo().GetName()
		files, err := h.GitHub.PullRequestFiles(ctx, owner, repo, ev.GetNumber())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		list, err := h.engine.evaluate(ctx, org, changeSet{
			Owner:   owner,
			Repo:    repo,
			BaseSHA: ev.GetPullRequest().GetBase().GetSHA(),
			Files:   files,
		})
		if err != nil {
			return err
		}
		resp := AlertsResponse{Alerts: list}
		if h.Notifier != nil && len(list) > 0 {
			rep := h.Notifier.DispatchAlerts(ctx, org, repo, list)
			resp.Notified = &rep
		}
		h.Logger.Printf("org=%s %s/%s#%d: %d alerts", org, owner, repo, ev.GetNumber(), len(list))
		return c.JSON(http.StatusOK, resp)
	default:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "ignored"})
	}
}
