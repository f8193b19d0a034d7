package orchestrator

import "github.com/beamforge/beamforge/internal/eventbus"

// Payload types for each eventbus.Type published by the orchestrator. Each
// is JSON-marshalable for the HTTP/WebSocket job surface and the optional
// Redis relay.

type StartedPayload struct {
	Params    Config `json:"params"`
	SessionID string `json:"sessionId"`
}

type StepPayload struct {
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type OperationPayload struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

type CandidatePayload struct {
	Iteration   int    `json:"iteration"`
	CandidateID int    `json:"candidateId"`
	Stage       string `json:"stage"`
}

type ImageRef struct {
	URL       string `json:"url"`
	LocalPath string `json:"localPath,omitempty"`
}

type CandidateCompletePayload struct {
	Iteration      int      `json:"iteration"`
	CandidateID    int      `json:"candidateId"`
	ParentID       *int     `json:"parentId,omitempty"`
	WhatPrompt     string   `json:"whatPrompt"`
	HowPrompt      string   `json:"howPrompt"`
	Combined       string   `json:"combined"`
	Image          ImageRef `json:"image"`
	AlignmentScore *float64 `json:"alignmentScore,omitempty"`
	AestheticScore *float64 `json:"aestheticScore,omitempty"`
	TotalScore     *float64 `json:"totalScore,omitempty"`
	Failed         bool     `json:"failed,omitempty"`
}

type RankingComparisonPayload struct {
	Iteration int    `json:"iteration"`
	IDA       int    `json:"idA"`
	IDB       int    `json:"idB"`
	Winner    string `json:"winner"`
	Reason    string `json:"reason,omitempty"`
}

type RankingCompletePayload struct {
	Iteration int   `json:"iteration"`
	Order     []int `json:"order"`
}

type IterationCompletePayload struct {
	Iteration     int        `json:"iteration"`
	TokenUsage    TokenUsage `json:"tokenUsage"`
	EstimatedCost float64    `json:"estimatedCost"`
}

type WinnerPayload struct {
	Iteration   int      `json:"iteration"`
	CandidateID int      `json:"candidateId"`
	Score       *float64 `json:"score,omitempty"`
}

type CompletePayload struct {
	Winner      WinnerPayload `json:"winner"`
	TotalTokens int           `json:"totalTokens"`
	TotalCost   float64       `json:"totalCost"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// publisher is the minimal surface the orchestrator needs from an event
// bus, kept as an interface so tests can substitute a fake recorder.
type publisher interface {
	Publish(eventbus.Event)
}
