// Package enhance post-processes assistant text: it finds knowledge-base
// image URLs, presigns private ones, redacts the originals and appends a
// Markdown gallery.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bakkerme/agentpipe/internal/config"
	"github.com/bakkerme/agentpipe/internal/imagemap"
	"github.com/bakkerme/agentpipe/internal/spaces"
)

// Signer presigns private object URLs for display.
type Signer interface {
	Matches(rawURL string) bool
	SignURL(ctx context.Context, rawURL string) (string, error)
}

// Enhancer rewrites assistant text according to a fixed pipeline: collect
// image URL candidates in first-occurrence order, deduplicate, presign what
// is private, redact signed originals, then append the gallery. The same
// inputs always produce the same output.
type Enhancer struct {
	detect    bool
	pattern   *regexp.Regexp
	embedded  *regexp.Regexp
	maxImages int
	signer    Signer
	imageMap  *imagemap.Map
	notify    bool
	notifyMsg string
	logger    *slog.Logger
}

type Input struct {
	Text string
	// FirstTurn is true when the conversation has no prior assistant turns.
	FirstTurn bool
	// UserText is the latest user message, used for keyword image matching.
	UserText string
}

type Image struct {
	OriginalURL string
	DisplayURL  string
	Title       string
	Signed      bool
}

type Result struct {
	// Text is the response body after redaction, with the first-turn
	// notification appended when due.
	Text string
	// Gallery is the appended image section, empty when no images survived.
	Gallery string
	Images  []Image
}

// Full returns the complete enhanced response.
func (r Result) Full() string { return r.Text + r.Gallery }

func New(images config.ImageEnvConfig, chat config.ChatEnvConfig, signer Signer, imageMap *imagemap.Map, logger *slog.Logger) (*Enhancer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enhancer{
		detect:    images.DetectionEnabled,
		maxImages: images.MaxImages,
		signer:    signer,
		imageMap:  imageMap,
		notify:    chat.NotificationEnabled,
		notifyMsg: chat.NotificationMessage,
		logger:    logger,
	}
	if !e.detect {
		return e, nil
	}

	urlPattern := strings.TrimSpace(images.URLPattern)
	if urlPattern == "" {
		urlPattern = config.DefaultImageURLPattern
	}
	pattern, err := regexp.Compile("(?i)" + urlPattern)
	if err != nil {
		return nil, fmt.Errorf("enhance: compile image url pattern: %w", err)
	}
	// The markdown form reuses the configured pattern verbatim as its URL
	// group, so both passes agree on what counts as an image URL.
	embedded, err := regexp.Compile(`(?i)!\[.*?\]\((` + urlPattern + `)\)`)
	if err != nil {
		return nil, fmt.Errorf("enhance: compile embedded image pattern: %w", err)
	}
	e.pattern = pattern
	e.embedded = embedded
	return e, nil
}

// Buffered reports whether streaming responses must be fully buffered before
// reaching the client. True whenever image handling is on, since a private
// URL must never be visible, not even for one chunk.
func (e *Enhancer) Buffered() bool { return e.detect }

// NotificationDue reports whether the first-turn notification applies.
func (e *Enhancer) NotificationDue(firstTurn bool) bool {
	return e.notify && firstTurn
}

// NotificationMessage returns the configured first-turn notice.
func (e *Enhancer) NotificationMessage() string { return e.notifyMsg }

func (e *Enhancer) Enhance(ctx context.Context, in Input) Result {
	tracer := otel.Tracer("agentpipe/enhance")
	ctx, span := tracer.Start(ctx, "enhance.response")
	defer span.End()

	text := in.Text
	var images []Image
	var signedOriginals []string

	if e.detect {
		for _, candidate := range e.collectCandidates(in) {
			if len(images) >= e.maxImages {
				break
			}
			img := Image{OriginalURL: candidate.url, DisplayURL: candidate.url, Title: candidate.title}
			if img.Title == "" {
				img.Title = imageTitle(candidate.url)
			}
			if e.signer != nil && !spaces.IsSigned(candidate.url) && e.signer.Matches(candidate.url) {
				signed, err := e.signer.SignURL(ctx, candidate.url)
				if err != nil {
					e.logger.Debug("dropping image, presign failed", "url", candidate.url, "error", err)
					continue
				}
				img.DisplayURL = signed
				img.Signed = true
				signedOriginals = append(signedOriginals, candidate.url)
			}
			images = append(images, img)
		}

		// Signed originals must disappear from the visible text before
		// anything is appended to it.
		for _, original := range signedOriginals {
			text = strings.ReplaceAll(text, original, RedactionPlaceholder)
		}
	}

	if e.NotificationDue(in.FirstTurn) {
		text += "\n\n" + e.notifyMsg
	}

	span.SetAttributes(
		attribute.Int("enhance.images", len(images)),
		attribute.Int("enhance.redactions", len(signedOriginals)),
		attribute.Bool("enhance.first_turn", in.FirstTurn),
	)
	return Result{Text: text, Gallery: renderGallery(images), Images: images}
}

type candidate struct {
	url   string
	title string
}

// collectCandidates gathers image URLs in first-occurrence order: bare URLs,
// then URLs inside Markdown image syntax, then keyword-mapped entries.
// Duplicates keep their first position.
func (e *Enhancer) collectCandidates(in Input) []candidate {
	seen := map[string]bool{}
	var out []candidate

	for _, match := range e.pattern.FindAllString(in.Text, -1) {
		if seen[match] {
			continue
		}
		seen[match] = true
		out = append(out, candidate{url: match})
	}

	for _, groups := range e.embedded.FindAllStringSubmatch(in.Text, -1) {
		u := groups[1]
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, candidate{url: u})
	}

	if e.imageMap != nil {
		for _, entry := range e.imageMap.Match(in.UserText) {
			if seen[entry.URL] {
				continue
			}
			seen[entry.URL] = true
			out = append(out, candidate{url: entry.URL, title: entry.Title})
		}
	}
	return out
}
