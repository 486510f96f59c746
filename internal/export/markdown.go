// internal/export/markdown.go
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"council/internal/models"
	"council/internal/store"
)

// Markdown renders a conversation as a readable transcript. Assistant turns
// show the chairman synthesis when stage 3 ran, with the per-model council
// answers collapsed underneath; chat-only turns show the raw answers.
func Markdown(conv *store.Conversation) string {
	var sb strings.Builder

	sb.WriteString("# ")
	sb.WriteString(conv.Title)
	sb.WriteString("\n\n")

	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("**Conversation ID:** `%s`\n\n", conv.ID))
	sb.WriteString(fmt.Sprintf("**Created:** %s\n\n", conv.CreatedAt.Format("2006-01-02 15:04:05")))
	if conv.ExecutionMode != "" {
		sb.WriteString(fmt.Sprintf("**Mode:** %s\n\n", conv.ExecutionMode))
	}
	if len(conv.Models) > 0 {
		sb.WriteString(fmt.Sprintf("**Council:** %s\n\n", strings.Join(conv.Models, ", ")))
	}
	if conv.Chairman != "" {
		sb.WriteString(fmt.Sprintf("**Chairman:** %s\n\n", conv.Chairman))
	}
	sb.WriteString("---\n\n")

	sb.WriteString("## Transcript\n\n")
	for i, msg := range conv.Messages {
		writeMessage(&sb, msg)
		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from Council on %s*\n", time.Now().Format("2006-01-02 15:04:05")))

	return sb.String()
}

// Write renders the conversation and writes it to an exports directory under
// baseDir, returning the file path.
func Write(conv *store.Conversation, baseDir string) (string, error) {
	datePart := conv.CreatedAt.Format("2006-01-02")
	filename := fmt.Sprintf("%s-%s.md", datePart, sanitizeFilename(conv.Title))

	exportDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path := filepath.Join(exportDir, filename)
	if err := os.WriteFile(path, []byte(Markdown(conv)), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

func writeMessage(sb *strings.Builder, msg store.Message) {
	if msg.Role == models.RoleUser {
		sb.WriteString("### User\n\n")
		writeContent(sb, msg.Content)
		sb.WriteString("\n")
		return
	}

	sb.WriteString("### Council\n\n")

	if msg.Stage3 != nil && msg.Stage3.OK {
		writeContent(sb, msg.Stage3.Content)
		sb.WriteString("\n")
		if len(msg.Stage1) > 0 {
			sb.WriteString("<details>\n<summary>Individual council responses</summary>\n\n")
			writeStage1(sb, msg.Stage1)
			sb.WriteString("</details>\n\n")
		}
		return
	}

	// No synthesis: show the council answers directly.
	writeStage1(sb, msg.Stage1)
}

func writeStage1(sb *strings.Builder, results []models.Result) {
	for _, res := range results {
		sb.WriteString(fmt.Sprintf("#### %s\n\n", res.Model))
		if !res.OK {
			sb.WriteString(fmt.Sprintf("*(failed: %s)*\n\n", res.Error))
			continue
		}
		writeContent(sb, res.Content)
		sb.WriteString("\n")
	}
}

func writeContent(sb *strings.Builder, content string) {
	content = strings.TrimSpace(content)
	if strings.Contains(content, "```") {
		// Content already carries code blocks, render as-is.
		sb.WriteString(content)
		sb.WriteString("\n")
		return
	}
	for _, line := range strings.Split(content, "\n") {
		sb.WriteString("> ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}

// sanitizeFilename reduces a title to a safe lowercase slug.
func sanitizeFilename(name string) string {
	name = strings.ToLower(strings.ReplaceAll(name, " ", "-"))

	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_':
			sb.WriteRune(r)
		}
	}

	result := sb.String()
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	result = strings.Trim(result, "-")
	if result == "" {
		result = "conversation"
	}
	if len(result) > 50 {
		result = result[:50]
	}
	return result
}
