package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/nevindra/dossier"
)

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the ids the backend reports on GET {baseURL}/models.
// Backends that serve local weight files report paths; only the base name
// is kept.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, &dossier.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &dossier.ErrLLM{Provider: p.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &dossier.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode models: %v", err)}
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID == "" {
			continue
		}
		ids = append(ids, path.Base(m.ID))
	}
	return ids, nil
}
