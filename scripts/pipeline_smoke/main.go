// Command pipeline_smoke drives the lecture generation pipeline end to end
// against a running API: it registers an instructor, creates a course with an
// AI-generated lecture, then polls the processing status until the lecture
// reaches a terminal state.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type session struct {
	client *http.Client
	base   string
	token  string
}

func main() {
	var (
		base     string
		timeout  time.Duration
		deadline time.Duration
		interval time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.DurationVar(&deadline, "deadline", 5*time.Minute, "How long to wait for generation to finish")
	flag.DurationVar(&interval, "interval", 5*time.Second, "Polling interval")
	flag.Parse()

	s := &session{
		client: &http.Client{Timeout: timeout},
		base:   strings.TrimRight(base, "/"),
	}

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	if err := s.registerAndLogin(email); err != nil {
		log.Fatalf("auth: %v", err)
	}
	fmt.Printf("instructor registered: %s\n", email)

	courseID, err := s.createCourse()
	if err != nil {
		log.Fatalf("create course: %v", err)
	}
	fmt.Printf("course created: %s\n", courseID)

	lectureID, err := s.createGeneratedLecture(courseID)
	if err != nil {
		log.Fatalf("create lecture: %v", err)
	}
	fmt.Printf("lecture created: %s, waiting for generation\n", lectureID)

	status, err := s.waitForTerminal(lectureID, deadline, interval)
	if err != nil {
		log.Fatalf("poll: %v", err)
	}

	fmt.Printf("final status: %s\n", status)
	if status != "completed" {
		os.Exit(1)
	}
}

func (s *session) registerAndLogin(email string) error {
	payload := map[string]interface{}{
		"email":     email,
		"password":  "Smoke-test-1",
		"full_name": "Smoke Instructor",
		"role":      "INSTRUCTOR",
	}
	if _, err := s.post("/auth/register", payload); err != nil {
		return err
	}

	data, err := s.post("/auth/login", map[string]interface{}{
		"email":    email,
		"password": "Smoke-test-1",
	})
	if err != nil {
		return err
	}

	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &login); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if login.AccessToken == "" {
		return fmt.Errorf("login returned no access token")
	}
	s.token = login.AccessToken
	return nil
}

func (s *session) createCourse() (string, error) {
	data, err := s.post("/courses", map[string]interface{}{
		"title":       "Pipeline Smoke Course",
		"description": "Created by the pipeline smoke driver",
		"category":    "testing",
		"level":       "beginner",
	})
	if err != nil {
		return "", err
	}
	return extractID(data)
}

func (s *session) createGeneratedLecture(courseID string) (string, error) {
	data, err := s.post("/courses/"+courseID+"/lectures", map[string]interface{}{
		"title":        "Generated Lecture",
		"order":        1,
		"content_type": "ai-generated",
		"text_content": "This short lecture text exists only to exercise the generation pipeline.",
	})
	if err != nil {
		return "", err
	}
	return extractID(data)
}

func (s *session) waitForTerminal(lectureID string, deadline, interval time.Duration) (string, error) {
	expiry := time.Now().Add(deadline)
	for {
		data, err := s.get("/lectures/" + lectureID + "/processing-status")
		if err != nil {
			return "", err
		}
		var status struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal(data, &status); err != nil {
			return "", fmt.Errorf("decode status: %w", err)
		}

		fmt.Printf("  status=%s progress=%d\n", status.Status, status.Progress)
		if status.Status == "completed" || status.Status == "failed" {
			if status.Error != "" {
				fmt.Printf("  error: %s\n", status.Error)
			}
			return status.Status, nil
		}
		if time.Now().After(expiry) {
			return status.Status, fmt.Errorf("generation did not finish within %s", deadline)
		}
		time.Sleep(interval)
	}
}

func (s *session) post(path string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, s.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *session) get(path string) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodGet, s.base+path, nil)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

func (s *session) do(req *http.Request) (json.RawMessage, error) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		if env.Error != nil {
			return nil, fmt.Errorf("%s %s: %s (%s)", req.Method, req.URL.Path, env.Error.Message, env.Error.Code)
		}
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return env.Data, nil
}

func extractID(data json.RawMessage) (string, error) {
	var entity struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &entity); err != nil {
		return "", fmt.Errorf("decode entity: %w", err)
	}
	if entity.ID == "" {
		return "", fmt.Errorf("response carried no id")
	}
	return entity.ID, nil
}
