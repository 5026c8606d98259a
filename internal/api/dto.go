package api

import (
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/noteservice"
	"github.com/starford/zettelink/internal/query"
	"github.com/starford/zettelink/internal/similarity"
)

// EmbedRequest is the optional request body for POST /api/embed.
type EmbedRequest struct {
	Force bool `json:"force" example:"false"`
}

// SearchResponse is the ranked search report (aliased from the query layer).
type SearchResponse = query.Report

// LinksResponse is the link report (aliased from the similarity layer).
type LinksResponse = similarity.Report

// CacheInfoResponse describes the cache (aliased from the domain layer).
type CacheInfoResponse = noteservice.CacheInfo

// RelatedResponse lists the neighbours of one note.
type RelatedResponse struct {
	Stem      string            `json:"stem" example:"hello" validate:"required"`
	Rel       string            `json:"rel" example:"notes/hello.md" validate:"required"`
	Path      string            `json:"path" validate:"required"`
	Threshold float64           `json:"threshold" example:"0.65" validate:"required"`
	Neighbors []models.Neighbor `json:"neighbors" validate:"required"`
}
