package processor

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/pkg/xerr"
)

// 题库 CSV 列约定：question 必填，answer 与 correct_answer 至少其一
var optionalQuestionColumns = []string{"options", "difficulty", "topic", "category"}

// processQuestionBank 一行题目对应一个 chunk
func (p *Processor) processQuestionBank(req ProcessRequest, filename string) ([]kb.DocumentChunk, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("open csv: %v", err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, xerr.New(xerr.FormatValidation, fmt.Sprintf("malformed csv: %v", err))
	}
	if len(rows) == 0 {
		return nil, xerr.New(xerr.FormatValidation, "csv file is empty")
	}

	header := normalizeHeader(rows[0])
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	if err := validateQuestionColumns(col); err != nil {
		return nil, err
	}

	answerCol, ok := col["answer"]
	if !ok {
		answerCol = col["correct_answer"]
	}

	now := time.Now()
	chunks := make([]kb.DocumentChunk, 0, len(rows)-1)
	for rowIdx, row := range rows[1:] {
		question := cell(row, col["question"])
		answer := cell(row, answerCol)
		if question == "" {
			continue
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Question: %s\n", question)
		if optIdx, ok := col["options"]; ok {
			if options := cell(row, optIdx); options != "" {
				fmt.Fprintf(&sb, "Options: %s\n", options)
			}
		}
		fmt.Fprintf(&sb, "Correct Answer: %s", answer)

		extra := map[string]string{
			"question": question,
			"answer":   answer,
			"row":      fmt.Sprintf("%d", rowIdx+1),
		}
		for _, name := range optionalQuestionColumns {
			if idx, ok := col[name]; ok {
				if v := cell(row, idx); v != "" {
					extra[name] = v
				}
			}
		}

		idx := len(chunks)
		meta := p.newMetadata(req, filename, idx, now)
		meta.Extra = extra
		chunks = append(chunks, kb.DocumentChunk{
			ID:         fmt.Sprintf("%s_q_%d", req.DocumentID, idx),
			DocumentID: req.DocumentID,
			Content:    sb.String(),
			Index:      idx,
			Metadata:   meta,
		})
	}
	return chunks, nil
}

// validateQuestionColumns 返回的错误逐列指明缺失项
func validateQuestionColumns(col map[string]int) error {
	var missing []string
	if _, ok := col["question"]; !ok {
		missing = append(missing, "question")
	}
	_, hasAnswer := col["answer"]
	_, hasCorrect := col["correct_answer"]
	if !hasAnswer && !hasCorrect {
		missing = append(missing, "answer (or correct_answer)")
	}
	if len(missing) > 0 {
		return xerr.New(xerr.FormatValidation,
			fmt.Sprintf("question bank csv missing required columns: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func normalizeHeader(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(v, "\uFEFF")))
	}
	return out
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
