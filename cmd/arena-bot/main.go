// arena-bot is a scripted stand-in for a real model provider, serving
// the same chat/completions contract gateway.HTTPGateway speaks against.
// It exists for local development and manual testing of the arena
// server without spending real model calls, the same role cmd/dumb-bot
// played for the reference server's poker tables: a minimal randomized
// decision-maker behind the same wire protocol real traffic uses.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	ResponseFmt *struct {
		Type       string         `json:"type"`
		JSONSchema map[string]any `json:"json_schema,omitempty"`
	} `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
	Delta   chatMessage `json:"delta"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

func main() {
	addr := getenv("BOT_ADDR", ":8090")
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		prompt := ""
		if len(req.Messages) > 0 {
			prompt = req.Messages[len(req.Messages)-1].Content
		}

		var content string
		if req.ResponseFmt != nil && req.ResponseFmt.Type == "json_schema" {
			content = scriptedJudgeReply(rnd, prompt)
		} else {
			content = scriptedCompetitorReply(rnd, prompt)
		}

		if req.Stream {
			writeSSEStream(w, content)
			return
		}
		resp := chatResponse{Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: content}}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	log.Info().Str("addr", addr).Msg("arena-bot listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("arena-bot stopped")
	}
}

// scriptedCompetitorReply stands in for a duel/debate competitor: a
// short canned answer, ending a debate turn once in a while so
// MatchRunner's <END> sentinel path gets exercised in manual testing.
func scriptedCompetitorReply(rnd *rand.Rand, prompt string) string {
	openings := []string{
		"Here is my reasoning: ",
		"Consider the following approach: ",
		"I'll argue the position directly: ",
	}
	body := openings[rnd.Intn(len(openings))] + summarize(prompt)
	if strings.Contains(prompt, "end your response with <END>") && rnd.Intn(3) == 0 {
		body += "\n<END>"
	}
	return body
}

// scriptedJudgeReply fabricates a judgeWire-shaped JSON payload so a
// full match can be judged end to end without a real structured-output
// model behind it. recommendedWinner is the agent id read from the judge
// prompt's "Agent N id:" lines, or null.
func scriptedJudgeReply(rnd *rand.Rand, prompt string) string {
	var agent1ID, agent2ID string
	for _, line := range strings.Split(prompt, "\n") {
		if id, ok := strings.CutPrefix(line, "Agent 1 id: "); ok {
			agent1ID = id
		} else if id, ok := strings.CutPrefix(line, "Agent 2 id: "); ok {
			agent2ID = id
		}
	}
	a1 := 5 + rnd.Float64()*4
	a2 := 5 + rnd.Float64()*4
	winner := "null"
	if a1 > a2+0.5 {
		b, _ := json.Marshal(agent1ID)
		winner = string(b)
	} else if a2 > a1+0.5 {
		b, _ := json.Marshal(agent2ID)
		winner = string(b)
	}
	return fmt.Sprintf(`{"agent1TotalScore":%.2f,"agent2TotalScore":%.2f,"recommendedWinner":%s,"overallReasoning":"scripted evaluation for local testing","evaluationQuality":0.7}`, a1, a2, winner)
}

func summarize(prompt string) string {
	if len(prompt) > 80 {
		return prompt[:80] + "..."
	}
	return prompt
}

func writeSSEStream(w http.ResponseWriter, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	words := strings.Fields(content)
	for _, word := range words {
		chunk := chatResponse{Choices: []chatChoice{{Delta: chatMessage{Content: word + " "}}}}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
