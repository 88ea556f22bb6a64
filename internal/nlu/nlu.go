// Package nlu turns a transcript into a spoken answer plus side
// effects: tool calls that park visual-mode requests, take photos, or
// generate images.
package nlu

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"
)

// Result is what a turn's answering phase produced.
type Result struct {
	Answer string
	// GeneratedImage is set when the model generated a picture; the
	// controller shows it after playback.
	GeneratedImage string
}

const systemPrompt = `You are Jarvis, a small home assistant living on a desk device with a camera, a tiny screen and a speaker.
Answer briefly: your replies are spoken aloud and must fit a few sentences.
When the user asks you to watch, record, play back, track poses or guard something, call the matching tool; the tool reply tells you what will happen.
The camera takeover starts only after you finish speaking, so phrase answers accordingly ("starting the recording now").
Only one visual mode can run at a time; a new request replaces the pending one.`

// Analyze runs the tool-calling conversation for one turn.
func Analyze(ctx context.Context, client openai.Client, transcript string, d *Dispatcher) (Result, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT5Nano,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(transcript),
		},
		Tools: toolDefs(),
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("no choices in response")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return Result{Answer: msg.Content}, nil
	}

	params.Messages = append(params.Messages, msg.ToParam())
	for _, tc := range msg.ToolCalls {
		log.Info("tool call", "tool", tc.Function.Name, "args", tc.Function.Arguments)
		ack := d.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments)
		params.Messages = append(params.Messages, openai.ToolMessage(ack, tc.ID))
	}

	resp, err = client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion after tools: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("no choices after tools")
	}

	return Result{
		Answer:         resp.Choices[0].Message.Content,
		GeneratedImage: d.TakeGenerated(),
	}, nil
}

// WireImageGen points the dispatcher's generate_image tool at the
// images API.
func (d *Dispatcher) WireImageGen(client openai.Client) {
	d.imageGen = func(ctx context.Context, prompt, outPath string) error {
		resp, err := client.Images.Generate(ctx, openai.ImageGenerateParams{
			Prompt:         prompt,
			Model:          openai.ImageModelDallE3,
			Size:           openai.ImageGenerateParamsSize1024x1024,
			ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		})
		if err != nil {
			return fmt.Errorf("image generation: %w", err)
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("image generation: empty response")
		}
		raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
		if err != nil {
			return fmt.Errorf("image decode: %w", err)
		}
		if err := os.WriteFile(outPath, raw, 0o644); err != nil {
			return fmt.Errorf("image write: %w", err)
		}
		return nil
	}
}

func toolDefs() []openai.ChatCompletionToolUnionParam {
	obj := func(props map[string]any, required ...string) openai.FunctionParameters {
		p := openai.FunctionParameters{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			p["required"] = required
		}
		return p
	}

	return []openai.ChatCompletionToolUnionParam{
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "start_detection",
			Description: openai.String("Show live object detection on the screen for the given objects."),
			Parameters: obj(map[string]any{
				"objects":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"duration": map[string]any{"type": "number", "description": "seconds, omit for until interrupted"},
			}, "objects"),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "record_video",
			Description: openai.String("Record a video clip with a live preview on the screen."),
			Parameters: obj(map[string]any{
				"duration": map[string]any{"type": "number", "description": "seconds, default 10"},
			}),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "play_video",
			Description: openai.String("Play a saved video on the screen. Use \"latest\" for the most recent clip."),
			Parameters: obj(map[string]any{
				"video_path": map[string]any{"type": "string"},
			}),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "start_pose_tracking",
			Description: openai.String("Track a human pose or count exercise reps on the screen."),
			Parameters: obj(map[string]any{
				"action": map[string]any{"type": "string", "description": "squat, pushup, wave, detect..."},
				"count":  map[string]any{"type": "boolean"},
				"goal":   map[string]any{"type": "integer"},
				"record": map[string]any{"type": "boolean"},
			}, "action"),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "start_observer",
			Description: openai.String("Watch for objects and alert (optionally recording clips) when they appear."),
			Parameters: obj(map[string]any{
				"objects":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"record":     map[string]any{"type": "boolean"},
				"continuous": map[string]any{"type": "boolean"},
			}, "objects"),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "start_sentry",
			Description: openai.String("Guard against interactions between object pairs, e.g. dog,couch."),
			Parameters: obj(map[string]any{
				"pairs":      map[string]any{"type": "array", "items": map[string]any{"type": "string", "description": "obj1,obj2"}},
				"record":     map[string]any{"type": "boolean"},
				"continuous": map[string]any{"type": "boolean"},
			}, "pairs"),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "take_photo",
			Description: openai.String("Take a still photo right now."),
			Parameters:  obj(map[string]any{}),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "generate_image",
			Description: openai.String("Generate a picture to show on the screen."),
			Parameters: obj(map[string]any{
				"prompt": map[string]any{"type": "string"},
			}, "prompt"),
		}),
	}
}
