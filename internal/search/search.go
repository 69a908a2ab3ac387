// Package search composes the Search Daemon's BM25 lookup with a Cohere
// rerank call into the single "search" operation IR agents invoke per
// query group: write queries to the daemon, read back the raw JSONL
// segments it produced, rerank them against a semantic master query, and
// project the top results down to the fields an agent's SELECT_CALL needs.
package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Tangerg/veritas/internal/daemon"
	"github.com/Tangerg/veritas/internal/ratelimit"
)

const rerankTopN = 15

// SegmentMeta is the trimmed projection of a search result an IR agent's
// SELECT_CALL prompt is built from.
type SegmentMeta struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Headings  string `json:"headings"`
	SegmentID string `json:"segment_id"`
}

type bm25Record struct {
	Segment  string `json:"segment"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Headings string `json:"headings"`
	DocID    string `json:"docid"`
}

// Searcher performs BM25 + rerank search on behalf of IR agents.
type Searcher struct {
	daemon      *daemon.Daemon
	gateway     *ratelimit.Gateway
	http        *http.Client
	cohereKey   string
	scratchRoot string
}

// New constructs a Searcher. scratchRoot is where per-agent BM25 result
// files are written before being read back and reranked.
func New(d *daemon.Daemon, gw *ratelimit.Gateway, httpClient *http.Client, cohereAPIKey, scratchRoot string) *Searcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Searcher{daemon: d, gateway: gw, http: httpClient, cohereKey: cohereAPIKey, scratchRoot: scratchRoot}
}

// Search runs the BM25 query group against the daemon, then reranks the
// results against masterQuery, returning up to rerankTopN segments.
func (s *Searcher) Search(ctx context.Context, queries []string, masterQuery, agentID string) ([]SegmentMeta, error) {
	outPath := filepath.Join(s.scratchRoot, agentID, fmt.Sprintf("results-%s.jsonl", uuid.NewString()))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("search: scratch dir: %w", err)
	}

	params := append(append([]string{}, queries...), outPath)
	if _, err := s.daemon.Submit(ctx, "search", params); err != nil {
		return nil, fmt.Errorf("search: bm25 submit: %w", err)
	}

	segments, meta, err := readBM25Results(outPath)
	if err != nil {
		return nil, fmt.Errorf("search: reading bm25 results: %w", err)
	}
	if len(segments) == 0 {
		return nil, nil
	}

	return s.rerank(ctx, segments, meta, masterQuery)
}

// SelectDocuments asks the daemon to retrieve the source segments for the
// given segment ids (not the full documents they belong to — "--asSegments"
// tells the daemon not to concatenate adjacent segments back together),
// returning the daemon's raw JSON result as a string ready to embed in an
// UPDATE_CALL prompt.
func (s *Searcher) SelectDocuments(ctx context.Context, segmentIDs []string) (string, error) {
	params := append([]string{"--asSegments"}, segmentIDs...)
	resp, err := s.daemon.Submit(ctx, "selectDocuments", params)
	if err != nil {
		return "", fmt.Errorf("search: selectDocuments submit: %w", err)
	}
	if resp.ResultJSON != "" {
		return resp.ResultJSON, nil
	}
	return string(resp.Result), nil
}

func readBM25Results(path string) (segments []string, meta []bm25Record, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var rec bm25Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		segments = append(segments, rec.Segment)
		meta = append(meta, rec)
	}
	return segments, meta, scanner.Err()
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (s *Searcher) rerank(ctx context.Context, segments []string, meta []bm25Record, masterQuery string) ([]SegmentMeta, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     "rerank-v3.5",
		Query:     masterQuery,
		Documents: segments,
		TopN:      rerankTopN * 5,
	})
	if err != nil {
		return nil, fmt.Errorf("search: marshal rerank request: %w", err)
	}

	var parsed rerankResponse
	err = s.gateway.GatedRerank(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.cohere.com/v2/rerank", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.cohereKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("search: rerank call returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(parsed.Results, func(i, j int) bool {
		return parsed.Results[i].RelevanceScore > parsed.Results[j].RelevanceScore
	})
	top := lo.Slice(parsed.Results, 0, rerankTopN)

	out := make([]SegmentMeta, 0, len(top))
	for _, r := range top {
		if r.Index < 0 || r.Index >= len(meta) {
			continue
		}
		m := meta[r.Index]
		out = append(out, SegmentMeta{Title: m.Title, URL: m.URL, Headings: m.Headings, SegmentID: m.DocID})
	}
	return out, nil
}
