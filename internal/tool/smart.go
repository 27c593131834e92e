package tool

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"chromamcp/internal/domain"
	"chromamcp/internal/port"
)

// UnclassifiedCollection receives documents when classification is disabled.
const UnclassifiedCollection = "unclassified"

var smartAddDef = mcp.NewTool("chroma_smart_add_documents",
	mcp.WithDescription("Add documents to collections chosen by a keyword classifier. "+
		"Documents failing classification validation are reported and not stored, unless force_collection is set."),
	mcp.WithArray("documents", mcp.Required(), mcp.Description("Document texts"), mcp.WithStringItems()),
	mcp.WithArray("ids", mcp.Description("One id per document; defaults to doc_<index>"), mcp.WithStringItems()),
	mcp.WithArray("metadatas", mcp.Description("Caller metadata; classifier fields take precedence"), mcp.Items(map[string]any{"type": "object"})),
	mcp.WithArray("titles", mcp.Description("Optional titles used as extra classification context"), mcp.WithStringItems()),
	mcp.WithBoolean("auto_classify", mcp.Description("Classify each document"), mcp.DefaultBool(true)),
	mcp.WithString("force_collection", mcp.Description("Store every document in this collection without classification")),
)

type smartAddArgs struct {
	Documents       []string          `json:"documents"`
	IDs             []string          `json:"ids"`
	Metadatas       []domain.Metadata `json:"metadatas"`
	Titles          []string          `json:"titles"`
	AutoClassify    *bool             `json:"auto_classify"`
	ForceCollection *string           `json:"force_collection"`
}

func (c *Chroma) smartAdd(ctx context.Context, a smartAddArgs) (any, error) {
	if len(a.Documents) == 0 {
		return nil, invalidArgf("The 'documents' list cannot be empty.")
	}
	if a.ForceCollection != nil && *a.ForceCollection == "" {
		return nil, invalidArgf("The 'force_collection' argument must not be empty.")
	}
	autoClassify := a.AutoClassify == nil || *a.AutoClassify

	results := make([]domain.SmartAddResult, 0, len(a.Documents))
	stored := 0
	for i, content := range a.Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := c.smartAddOne(i, content, a, autoClassify)
		if res.Success {
			stored++
		}
		results = append(results, res)
	}

	c.logger.Info("smart add finished", "documents", len(a.Documents), "stored", stored)
	return domain.SmartAddResponse{
		Results: results,
		Summary: fmt.Sprintf("Successfully processed %d out of %d documents. Auto-classification: %t",
			stored, len(a.Documents), autoClassify),
	}, nil
}

func (c *Chroma) smartAddOne(i int, content string, a smartAddArgs, autoClassify bool) domain.SmartAddResult {
	id := fmt.Sprintf("doc_%d", i)
	if i < len(a.IDs) && a.IDs[i] != "" {
		id = a.IDs[i]
	}
	var title string
	if i < len(a.Titles) {
		title = a.Titles[i]
	}

	res := domain.SmartAddResult{DocumentID: id, CollectionName: UnclassifiedCollection}
	metadata := domain.Metadata{}
	if i < len(a.Metadatas) {
		for k, v := range a.Metadatas[i] {
			metadata[k] = v
		}
	}

	switch {
	case a.ForceCollection != nil:
		res.CollectionName = *a.ForceCollection
	case autoClassify:
		cls, err := c.classifier.Classify(content, title)
		if err != nil {
			res.Error = fmt.Sprintf("Classification failed: %v", err)
			return res
		}
		res.Classification = &cls
		if !cls.ValidationPassed {
			res.Error = "Classification validation failed"
			return res
		}
		res.CollectionName = cls.SuggestedCollection
		for k, v := range cls.Metadata {
			metadata[k] = v
		}
	}

	coll, err := c.store.GetCollection(res.CollectionName)
	if err != nil {
		res.Error = fmt.Sprintf("Failed to get collection: %v", err)
		return res
	}
	err = coll.Add(port.AddRequest{
		Contents:  []string{content},
		Metadatas: []domain.Metadata{metadata},
		IDs:       []string{id},
	})
	if err != nil {
		res.Error = fmt.Sprintf("Failed to add document: %v", err)
		return res
	}

	res.Success = true
	return res
}
