package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/infrastructure/chunking"
	"QuizGazer/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor() *Processor {
	return NewProcessor(chunking.NewRecursiveChunker(1000, 200), 100)
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestProcess_UnsupportedFormat(t *testing.T) {
	p := newTestProcessor()
	path := writeTempFile(t, "notes.docx", "whatever")

	_, _, err := p.Process(context.Background(), ProcessRequest{
		Path: path, DocType: kb.DocTypeKnowledge, CollectionID: "c1", DocumentID: "d1",
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.UnsupportedFormat))
}

func TestProcess_QuestionBankRequiresCSV(t *testing.T) {
	p := newTestProcessor()
	path := writeTempFile(t, "bank.txt", "q,a")

	_, _, err := p.Process(context.Background(), ProcessRequest{
		Path: path, DocType: kb.DocTypeQuestionBank, CollectionID: "c1", DocumentID: "d1",
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.UnsupportedFormat))
}

func TestProcess_FileTooLarge(t *testing.T) {
	p := NewProcessor(chunking.NewRecursiveChunker(1000, 200), 1)
	path := writeTempFile(t, "big.txt", strings.Repeat("x", 2*1024*1024))

	_, _, err := p.Process(context.Background(), ProcessRequest{
		Path: path, DocType: kb.DocTypeKnowledge, CollectionID: "c1", DocumentID: "d1",
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.FileTooLarge))
}

func TestProcess_TextDocumentDeterministic(t *testing.T) {
	p := newTestProcessor()
	var sb strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "Paragraph %d talks about retrieval augmented generation and vector search.\n\n", i)
	}
	path := writeTempFile(t, "doc.md", sb.String())

	req := ProcessRequest{Path: path, DocType: kb.DocTypeKnowledge, CollectionID: "c1", DocumentID: "doc1"}
	first, _, err := p.Process(context.Background(), req)
	require.NoError(t, err)
	second, _, err := p.Process(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.Equal(t, "doc1_chunk_0", first[0].ID)
	assert.Equal(t, "doc.md", first[0].Metadata.SourceFile)
	assert.Equal(t, kb.DocTypeKnowledge, first[0].Metadata.DocType)
	assert.Equal(t, "c1", first[0].Metadata.CollectionID)
}

func TestProcess_QuestionBankMissingAnswerColumn(t *testing.T) {
	p := newTestProcessor()
	path := writeTempFile(t, "bank.csv", "question,difficulty\nWhat is Go?,easy\n")

	_, _, err := p.Process(context.Background(), ProcessRequest{
		Path: path, DocType: kb.DocTypeQuestionBank, CollectionID: "c1", DocumentID: "d1",
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.FormatValidation))
	assert.Contains(t, err.(*xerr.CodeError).Message, "answer")
}

func TestProcess_QuestionBankThreeRows(t *testing.T) {
	p := newTestProcessor()
	csv := "question,options,correct_answer,topic\n" +
		"Q1,\"A;B;C\",A,go\n" +
		"Q2,,B,go\n" +
		"Q3,\"X;Y\",Y,db\n"
	path := writeTempFile(t, "bank.csv", csv)

	chunks, warnings, err := p.Process(context.Background(), ProcessRequest{
		Path: path, DocType: kb.DocTypeQuestionBank, CollectionID: "c1", DocumentID: "qb1",
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, chunks, 3)

	assert.Equal(t, "qb1_q_0", chunks[0].ID)
	assert.Contains(t, chunks[0].Content, "Question: Q1")
	assert.Contains(t, chunks[0].Content, "Options: A;B;C")
	assert.Contains(t, chunks[0].Content, "Correct Answer: A")
	assert.Equal(t, "go", chunks[0].Metadata.Extra["topic"])

	// 无 options 列值时不输出 Options 行
	assert.NotContains(t, chunks[1].Content, "Options:")
}

func TestProcess_QuestionBankAnswerAlias(t *testing.T) {
	p := newTestProcessor()
	path := writeTempFile(t, "bank.csv", "question,answer\nQ1,A1\n")

	chunks, _, err := p.Process(context.Background(), ProcessRequest{
		Path: path, DocType: kb.DocTypeQuestionBank, CollectionID: "c1", DocumentID: "qb1",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "Correct Answer: A1")
}

func TestLooksImageDominant(t *testing.T) {
	assert.True(t, looksImageDominant("", 3))
	assert.True(t, looksImageDominant("tiny", 1))

	long := strings.Repeat("this is a normal line of extracted text from a pdf page\n", 50)
	assert.False(t, looksImageDominant(long, 5))

	// 碎片化输出：大量超短行
	fragmented := strings.Repeat("a\nb\nc\n", 100)
	assert.True(t, looksImageDominant(fragmented, 1))
}

type fakeRenderer struct {
	pages [][]byte
	err   error
}

func (f *fakeRenderer) RenderPages(ctx context.Context, pdfPath string) ([][]byte, error) {
	return f.pages, f.err
}

type fakeVision struct {
	texts map[int]string
	fails map[int]bool
	calls int
}

func (f *fakeVision) ExtractText(ctx context.Context, pageImage []byte) (string, error) {
	idx := f.calls
	f.calls++
	if f.fails[idx] {
		return "", fmt.Errorf("vision service unavailable")
	}
	return f.texts[idx], nil
}

func TestExtractViaOCR_PageFailureIsSkipped(t *testing.T) {
	p := newTestProcessor().WithOCR(
		&fakeRenderer{pages: [][]byte{{1}, {2}, {3}}},
		&fakeVision{
			texts: map[int]string{0: "first page", 2: "third page"},
			fails: map[int]bool{1: true},
		},
	)

	text, warnings, err := p.extractViaOCR(context.Background(), "scan.pdf", "")
	require.NoError(t, err)
	assert.Contains(t, text, "[Page 1]\nfirst page")
	assert.Contains(t, text, "[Page 3]\nthird page")
	assert.NotContains(t, text, "[Page 2]")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "page 2")
}

func TestExtractViaOCR_NoCollaboratorFallsBack(t *testing.T) {
	p := newTestProcessor()
	text, warnings, err := p.extractViaOCR(context.Background(), "scan.pdf", "residual text")
	require.NoError(t, err)
	assert.Equal(t, "residual text", text)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "no OCR collaborator")
}
