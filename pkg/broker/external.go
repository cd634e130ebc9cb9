// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
	"github.com/roughcut-mcp/studio-broker/pkg/tool"
)

const defaultFreesoundEndpoint = "https://freesound.org/apiv2/search/text/"

// GenerateVoiceoverArgs parameterizes generate-voiceover.
type GenerateVoiceoverArgs struct {
	Text    string `json:"text" jsonschema:"required,description=Text to synthesize"`
	VoiceID string `json:"voiceId,omitempty" jsonschema:"description=Provider voice id; falls back to the provider's default voice"`
}

// SearchSoundEffectArgs parameterizes search-sound-effect.
type SearchSoundEffectArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search terms"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results, default 10"`
}

// GenerateImageArgs parameterizes generate-image.
type GenerateImageArgs struct {
	Prompt string `json:"prompt" jsonschema:"required,description=Image generation prompt"`
	Width  int    `json:"width,omitempty" jsonschema:"description=Output width in pixels, default 1024"`
	Height int    `json:"height,omitempty" jsonschema:"description=Output height in pixels, default 1024"`
}

// registerAudioTools registers generate-voiceover and search-sound-effect.
// Split out of registerCredentialGatedTools so the AUDIO_ENABLED gate can
// skip both with a single call.
func registerAudioTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "generate-voiceover",
		Description: "Synthesize a voiceover track from text via the configured text-to-speech provider.",
		InputSchema: generateSchema[GenerateVoiceoverArgs](),
		Meta:        tool.Metadata{Category: "voice-generation", Priority: 50, Tags: []string{"voice", "audio"}, RequiredCredential: "elevenlabs"},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[GenerateVoiceoverArgs](raw)
		if err != nil {
			return nil, err
		}
		endpoint := b.cfg.APIEndpoints.ElevenLabs
		if endpoint == "" {
			endpoint = "https://api.elevenlabs.io/v1/text-to-speech/" + args.VoiceID
		}
		body := map[string]any{"text": args.Text}
		if args.VoiceID != "" {
			body["voiceId"] = args.VoiceID
		}
		status, respBody, rerr := b.postJSON(ctx, endpoint, map[string]string{"xi-api-key": b.cfg.APIKeys.ElevenLabs}, body)
		if rerr != nil {
			return nil, rerr
		}
		return map[string]any{"status": status, "bytesReturned": len(respBody)}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "search-sound-effect",
		Description: "Search a sound-effect library for clips matching a query.",
		InputSchema: generateSchema[SearchSoundEffectArgs](),
		Meta:        tool.Metadata{Category: "sound-effects", Priority: 50, Tags: []string{"audio", "sfx"}, RequiredCredential: "freesound"},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[SearchSoundEffectArgs](raw)
		if err != nil {
			return nil, err
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 10
		}
		q := url.Values{}
		q.Set("query", args.Query)
		q.Set("page_size", fmt.Sprintf("%d", limit))
		q.Set("token", b.cfg.APIKeys.Freesound)
		endpoint := defaultFreesoundEndpoint + "?" + q.Encode()

		status, respBody, rerr := b.getJSON(ctx, endpoint)
		if rerr != nil {
			return nil, rerr
		}
		var parsed map[string]any
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return map[string]any{"status": status, "raw": string(respBody)}, nil
		}
		return map[string]any{"status": status, "results": parsed}, nil
	})
}

// registerCredentialGatedTools registers the three third-party-API tools
// (voice-generation, sound-effects, image-generation). None is activated by
// default: they surface only through activate-categories, which itself
// skips them with a warning until their credential is configured
// (tool.Registry.ActivateCategories). The two audio categories are skipped
// entirely, before any credential check, when cfg.AudioEnabled is false.
func registerCredentialGatedTools(b *Broker) {
	if b.cfg.AudioEnabled {
		registerAudioTools(b)
	} else {
		b.log.Info("audio tools disabled via config", "categories", []string{"voice-generation", "sound-effects"})
	}

	mustRegister(b, &tool.Tool{
		Name:        "generate-image",
		Description: "Generate an image from a text prompt via the configured image-generation provider.",
		InputSchema: generateSchema[GenerateImageArgs](),
		Meta:        tool.Metadata{Category: "image-generation", Priority: 50, Tags: []string{"image"}, RequiredCredential: "flux"},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[GenerateImageArgs](raw)
		if err != nil {
			return nil, err
		}
		width, height := args.Width, args.Height
		if width <= 0 {
			width = 1024
		}
		if height <= 0 {
			height = 1024
		}
		body := map[string]any{"prompt": args.Prompt, "width": width, "height": height}
		status, respBody, rerr := b.postJSON(ctx, b.cfg.APIEndpoints.Flux, map[string]string{"Authorization": "Bearer " + b.cfg.APIKeys.Flux}, body)
		if rerr != nil {
			return nil, rerr
		}
		return map[string]any{"status": status, "bytesReturned": len(respBody)}, nil
	})
}

func (b *Broker) postJSON(ctx context.Context, endpoint string, headers map[string]string, body map[string]any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, apperr.New(apperr.Network, "broker", "post_json", "failed to encode request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, apperr.New(apperr.Network, "broker", "post_json", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return b.doRequest(req)
}

func (b *Broker) getJSON(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, apperr.New(apperr.Network, "broker", "get_json", "failed to build request", err)
	}
	return b.doRequest(req)
}

func (b *Broker) doRequest(req *http.Request) (int, []byte, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, apperr.New(apperr.Network, "broker", "call_external_api",
			fmt.Sprintf("request to %s failed", req.URL.Host), err).
			WithSuggestion(apperr.Suggestion{Action: "verify network connectivity and the configured API endpoint", Priority: 1})
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apperr.New(apperr.Network, "broker", "call_external_api", "failed to read response body", err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, data, apperr.New(apperr.Network, "broker", "call_external_api",
			fmt.Sprintf("%s returned status %d", req.URL.Host, resp.StatusCode), nil).
			WithSeverity(apperr.SeverityWarning)
	}
	return resp.StatusCode, data, nil
}
