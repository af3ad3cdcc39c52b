// Command make-call places one outbound call through a running voice-caller
// server and optionally polls until the call reaches a terminal state.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type createResponse struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

type statusResponse struct {
	CallID      string  `json:"callId"`
	Status      string  `json:"status"`
	Disposition string  `json:"disposition"`
	Summary     string  `json:"summary"`
	DurationSec float64 `json:"durationSec"`
}

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "voice-caller base URL")
		token    = flag.String("token", os.Getenv("VOICE_CALLER_TOKEN"), "bearer token for the API")
		phone    = flag.String("phone", "", "destination phone number (E.164)")
		prompt   = flag.String("prompt", "", "system prompt override")
		greeting = flag.String("greeting", "", "greeting override")
		wait     = flag.Bool("wait", false, "poll until the call finishes")
	)
	flag.Parse()

	if *phone == "" {
		fmt.Fprintln(os.Stderr, "usage: make-call -phone +79161234567 [-wait]")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 15 * time.Second}

	callID, status, err := createCall(client, *server, *token, *phone, *prompt, *greeting)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create call failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("call %s %s\n", callID, status)

	if !*wait {
		return
	}

	for {
		time.Sleep(2 * time.Second)
		st, err := getCall(client, *server, *token, callID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "poll failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("call %s %s\n", callID, st.Status)

		switch st.Status {
		case "completed", "failed", "no_answer":
			fmt.Printf("disposition: %s\nsummary: %s\nduration: %.1fs\n",
				st.Disposition, st.Summary, st.DurationSec)
			return
		}
	}
}

func createCall(client *http.Client, server, token, phone, prompt, greeting string) (string, string, error) {
	payload, err := json.Marshal(map[string]string{
		"phone":        phone,
		"systemPrompt": prompt,
		"greeting":     greeting,
	})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequest(http.MethodPost, server+"/api/calls", bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var cr createResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", "", err
	}
	return cr.CallID, cr.Status, nil
}

func getCall(client *http.Client, server, token, callID string) (*statusResponse, error) {
	req, err := http.NewRequest(http.MethodGet, server+"/api/calls/"+callID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
