// Package httpapi serves the feed display and upload flows as JSON over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/snapfeed/internal/platform/i18n/catalog"
	"github.com/louisbranch/snapfeed/internal/platform/logging"
	"github.com/louisbranch/snapfeed/internal/services/feed/media"
	"github.com/louisbranch/snapfeed/internal/services/feed/storage"
	"github.com/louisbranch/snapfeed/internal/services/feed/timefmt"
	"github.com/louisbranch/snapfeed/internal/services/feed/upload"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultMaxUploadBytes = 32 << 20

// Feeds is the read surface used by the display flow.
type Feeds interface {
	GetCurrentUser(ctx context.Context) (storage.Creator, error)
	GetFeeds(ctx context.Context) ([]storage.Feed, error)
	GetMyFeeds(ctx context.Context, userID string) ([]storage.Feed, error)
	GetFeedByID(ctx context.Context, id string) (storage.Feed, bool, error)
}

// Uploads accepts new feed submissions.
type Uploads interface {
	Submit(ctx context.Context, form upload.FeedFormData) (storage.Feed, error)
}

// Options tune the handler. Zero values select defaults.
type Options struct {
	// Locale is used when a request sends no Accept-Language header.
	Locale string
	// MaxUploadBytes caps a whole multipart upload request.
	MaxUploadBytes int64
	Now            func() time.Time
	Logger         *logrus.Logger
}

type handler struct {
	feeds          Feeds
	uploads        Uploads
	bundle         *catalog.Bundle
	locale         string
	maxUploadBytes int64
	now            func() time.Time
	log            *logrus.Logger
}

// NewHandler returns the API handler rooted at /api/. Each route is traced
// under its mux pattern.
func NewHandler(feeds Feeds, uploads Uploads, opts Options) http.Handler {
	h := &handler{
		feeds:          feeds,
		uploads:        uploads,
		bundle:         catalog.Default(),
		locale:         strings.TrimSpace(opts.Locale),
		maxUploadBytes: opts.MaxUploadBytes,
		now:            opts.Now,
		log:            opts.Logger,
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = defaultMaxUploadBytes
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.log == nil {
		h.log = logging.Discard()
	}

	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, otelhttp.NewHandler(fn, pattern))
	}
	route("GET /api/me", h.handleMe)
	route("GET /api/feeds", h.handleListFeeds)
	route("GET /api/feeds/mine", h.handleMyFeeds)
	route("GET /api/feeds/{id}", h.handleGetFeed)
	route("POST /api/feeds", h.handleCreateFeed)
	return mux
}

type feedView struct {
	ID             string          `json:"id"`
	Content        string          `json:"content"`
	ImageURLs      []string        `json:"imageUrls"`
	Hashtags       []string        `json:"hashtags,omitempty"`
	Creator        storage.Creator `json:"creator"`
	CreatedAt      time.Time       `json:"createdAt"`
	CreatedAtLabel string          `json:"createdAtLabel"`
}

type feedListView struct {
	Feeds []feedView `json:"feeds"`
}

type errorView struct {
	Error string `json:"error"`
}

func (h *handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.feeds.GetCurrentUser(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.feeds.GetFeeds(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.listView(r, feeds))
}

func (h *handler) handleMyFeeds(w http.ResponseWriter, r *http.Request) {
	user, err := h.feeds.GetCurrentUser(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	feeds, err := h.feeds.GetMyFeeds(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.listView(r, feeds))
}

func (h *handler) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok, err := h.feeds.GetFeedByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, storage.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.view(h.formatter(r), feed))
}

func (h *handler) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, media.ErrFileTooLarge)
			return
		}
		h.writeError(w, r, invalidRequestError{cause: err})
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.log.WithError(err).Warn("remove multipart temp files")
		}
	}()

	form := upload.FeedFormData{
		Content:  r.FormValue("content"),
		Hashtags: r.FormValue("hashtags"),
	}
	for _, header := range r.MultipartForm.File["images"] {
		form.Images = append(form.Images, media.FromFileHeader(header))
	}

	feed, err := h.uploads.Submit(r.Context(), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.WithFields(logrus.Fields{"feed_id": feed.ID, "images": len(feed.ImageURLs)}).Info("feed uploaded")
	writeJSON(w, http.StatusCreated, h.view(h.formatter(r), feed))
}

func (h *handler) listView(r *http.Request, feeds []storage.Feed) feedListView {
	f := h.formatter(r)
	out := feedListView{Feeds: make([]feedView, 0, len(feeds))}
	for _, feed := range feeds {
		out.Feeds = append(out.Feeds, h.view(f, feed))
	}
	return out
}

func (h *handler) view(f timefmt.Formatter, feed storage.Feed) feedView {
	imageURLs := feed.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	return feedView{
		ID:             feed.ID,
		Content:        feed.Content,
		ImageURLs:      imageURLs,
		Hashtags:       feed.Hashtags,
		Creator:        feed.Creator,
		CreatedAt:      feed.CreatedAt,
		CreatedAtLabel: f.Format(feed.CreatedAt),
	}
}

func (h *handler) formatter(r *http.Request) timefmt.Formatter {
	return timefmt.Formatter{Locale: h.localeFor(r), Now: h.now}
}

func (h *handler) localeFor(r *http.Request) string {
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		return h.bundle.Match(accept)
	}
	return h.bundle.Match(h.locale)
}

type invalidRequestError struct {
	cause error
}

func (e invalidRequestError) Error() string { return "invalid request: " + e.cause.Error() }

func (e invalidRequestError) Unwrap() error { return e.cause }

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	printer := h.bundle.Printer(h.localeFor(r))
	var invalid invalidRequestError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorView{Error: printer.Sprintf("feed.error.not_found")})
	case errors.Is(err, storage.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorView{Error: printer.Sprintf("feed.error.already_exists")})
	case errors.Is(err, media.ErrFileTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorView{Error: printer.Sprintf("feed.error.invalid", err.Error())})
	case errors.Is(err, upload.ErrEmptyFeed), errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorView{Error: printer.Sprintf("feed.error.invalid", err.Error())})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
		h.log.WithField("path", r.URL.Path).Debug("request canceled")
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("feed request failed")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
