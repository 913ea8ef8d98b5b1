package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestFal(baseURL string) *FalBackend {
	return &FalBackend{
		BaseURL: baseURL,
		Key:     "test-key",
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func TestFalGenerateImage(t *testing.T) {
	var gotPath string
	var gotInput map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotInput)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"request_id": "req-1",
			"images":     []map[string]string{{"url": "https://fal.media/out.png"}},
		})
	}))
	defer srv.Close()

	b := newTestFal(srv.URL)
	res, err := b.Generate(context.Background(), GenerateRequest{
		Model:       "flux-schnell",
		Prompt:      "a cat",
		AspectRatio: "9:16",
	})
	if err != nil {
		t.Fatalf("Generate 失败: %v", err)
	}
	if res.Status != JobSucceeded || res.MediaUrl != "https://fal.media/out.png" {
		t.Errorf("res = %+v", res)
	}
	if gotPath != "/fal-ai/flux/schnell" {
		t.Errorf("path = %s", gotPath)
	}
	if gotInput["image_size"] != "portrait_16_9" {
		t.Errorf("image_size = %v", gotInput["image_size"])
	}
}

func TestFalGenerateClip(t *testing.T) {
	var gotInput map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotInput)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"request_id": "req-2",
			"video":      map[string]string{"url": "https://fal.media/out.mp4"},
		})
	}))
	defer srv.Close()

	b := newTestFal(srv.URL)
	res, err := b.Generate(context.Background(), GenerateRequest{
		Model:       "wan-i2v",
		Prompt:      "slow pan",
		ImageUrl:    "http://minio/src.png",
		AspectRatio: "16:9",
	})
	if err != nil {
		t.Fatalf("Generate 失败: %v", err)
	}
	if res.MediaUrl != "https://fal.media/out.mp4" {
		t.Errorf("mediaUrl = %s", res.MediaUrl)
	}
	if gotInput["image_url"] != "http://minio/src.png" {
		t.Errorf("image_url = %v", gotInput["image_url"])
	}
	if gotInput["resolution"] != "480p" {
		t.Errorf("resolution = %v", gotInput["resolution"])
	}
}

func TestFalGenerateEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"request_id": "req-3"})
	}))
	defer srv.Close()

	b := newTestFal(srv.URL)
	res, err := b.Generate(context.Background(), GenerateRequest{Model: "flux-schnell", Prompt: "a cat"})
	if err != nil {
		t.Fatalf("空产物不应报错而是按失败返回: %v", err)
	}
	if res.Status != JobFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
}

func TestFalUnknownModel(t *testing.T) {
	b := newTestFal("http://unused")
	_, err := b.Generate(context.Background(), GenerateRequest{Model: "no-such-model", Prompt: "x"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("未知模型应返回 ErrValidation, got %v", err)
	}
}
