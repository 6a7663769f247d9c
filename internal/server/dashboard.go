package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/recommend"
	"github.com/nip10/varyant/internal/store"
)

//go:embed templates/*.html assets/style.css
var dashboardFS embed.FS

var (
	layoutTmpl = template.Must(template.ParseFS(dashboardFS, "templates/layout.html"))
	pageTmpls  = map[string]*template.Template{
		"list.html":   template.Must(template.ParseFS(dashboardFS, "templates/list.html")),
		"detail.html": template.Must(template.ParseFS(dashboardFS, "templates/detail.html")),
	}
)

// dashboardConcurrency bounds the analyses run for the list page.
const dashboardConcurrency = 4

// Dashboard template data structures
type layoutData struct {
	Title   string
	CSS     template.CSS
	Content template.HTML
}

type listData struct {
	Experiments []experimentListItem
}

type experimentListItem struct {
	ID           int64
	Name         string
	Status       string
	Running      string
	Participants int
	Action       recommend.Action
}

type detailData struct {
	View    analysis.View
	Running string
	Updated string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("logout") == "1" {
		http.SetCookie(w, &http.Cookie{
			Name:   tokenCookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}

	ctx := r.Context()

	summaries, err := s.fetcher.List(ctx, analysis.ListOptions{})
	if err != nil {
		s.log.Warn("dashboard list failed", "err", err)
		http.Error(w, "Failed to load experiments", http.StatusBadGateway)
		return
	}

	ids := make([]int64, len(summaries))
	for i, sum := range summaries {
		ids[i] = sum.ID
	}
	analyses, err := analysis.AnalyzeAll(ctx, s.fetcher, ids, dashboardConcurrency)
	if err != nil {
		s.log.Warn("dashboard analysis failed", "err", err)
		http.Error(w, "Failed to analyze experiments", http.StatusBadGateway)
		return
	}

	items := make([]experimentListItem, len(analyses))
	for i, a := range analyses {
		v := analysis.BuildView(a)
		items[i] = experimentListItem{
			ID:           v.ExperimentID,
			Name:         v.ExperimentName,
			Status:       string(v.Status),
			Running:      formatDays(v.DaysRunning),
			Participants: v.TotalParticipants,
			Action:       v.Recommendation,
		}
	}

	s.renderDashboard(w, "Experiments", "list.html", listData{Experiments: items})
}

func (s *Server) handleDashboardExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := store.ParseID(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	a, err := analysis.Analyze(r.Context(), s.fetcher, id)
	if err != nil {
		if isNotFound(err) {
			http.NotFound(w, r)
			return
		}
		s.log.Warn("dashboard analysis failed", "experiment_id", id, "err", err)
		http.Error(w, "Failed to load experiment", http.StatusBadGateway)
		return
	}

	v := analysis.BuildView(a)
	data := detailData{
		View:    v,
		Running: formatDays(v.DaysRunning),
		Updated: v.LastUpdated.Format("Jan 2, 2006 15:04:05 MST"),
	}
	s.renderDashboard(w, v.ExperimentName, "detail.html", data)
}

func (s *Server) renderDashboard(w http.ResponseWriter, title, page string, data any) {
	css, err := dashboardFS.ReadFile("assets/style.css")
	if err != nil {
		http.Error(w, "Failed to load styles", http.StatusInternalServerError)
		return
	}

	var content bytes.Buffer
	if err := pageTmpls[page].Execute(&content, data); err != nil {
		s.log.Error("render dashboard page", "page", page, "err", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = layoutTmpl.Execute(w, layoutData{
		Title:   title,
		CSS:     template.CSS(css),
		Content: template.HTML(content.String()),
	})
	if err != nil {
		s.log.Error("render dashboard layout", "err", err)
	}
}

func formatDays(days *int) string {
	switch {
	case days == nil:
		return "not started"
	case *days == 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", *days)
	}
}
