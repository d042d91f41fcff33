package llm

import (
	"context"
	"fmt"
	"strings"

	"QuizGazer/pkg/xerr"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Generator 生成协作方的调用契约：prompt 进、答案文本出
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatModelGenerator 基于 eino BaseChatModel 的 Generator 实现
type ChatModelGenerator struct {
	cm           model.BaseChatModel
	systemPrompt string
}

func NewChatModelGenerator(cm model.BaseChatModel, systemPrompt string) *ChatModelGenerator {
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	return &ChatModelGenerator{cm: cm, systemPrompt: systemPrompt}
}

// Ready 生成模型是否已配置
func (g *ChatModelGenerator) Ready() bool {
	return g != nil && g.cm != nil
}

func (g *ChatModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.cm == nil {
		return "", xerr.New(xerr.GenerationAPI, "chat model not configured")
	}
	msg, err := g.cm.Generate(ctx, []*schema.Message{
		schema.SystemMessage(g.systemPrompt),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", xerr.New(xerr.GenerationAPI, fmt.Sprintf("generation failed: %v", err))
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", xerr.New(xerr.GenerationAPI, "generation returned empty answer")
	}
	return msg.Content, nil
}

var _ Generator = (*ChatModelGenerator)(nil)
