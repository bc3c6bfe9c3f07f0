package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
)

type providerReader struct {
	fetch func(ctx context.Context, ids []int) ([]*models.MomoProvider, error)
}

// getProviders keeps the order of ids; unknown ids resolve to ErrorRecordNotFound.
func (r *providerReader) getProviders(ctx context.Context, ids []int) []*dataloader.Result[*models.MomoProvider] {
	results, err := r.fetch(ctx, ids)
	if err != nil {
		return handleError[*models.MomoProvider](len(ids), err)
	}
	resultMap := make(map[int]*models.MomoProvider, len(results))
	for _, p := range results {
		resultMap[p.ID] = p
	}
	loaderResults := make([]*dataloader.Result[*models.MomoProvider], 0, len(ids))
	for _, id := range ids {
		p, ok := resultMap[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*models.MomoProvider]{Error: utils.ErrorRecordNotFound})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.MomoProvider]{Data: p})
	}
	return loaderResults
}

func GetProvider(ctx context.Context, id int) (*models.MomoProvider, error) {
	loaders := For(ctx)
	return loaders.ProviderLoader.Load(ctx, id)()
}

func GetProviders(ctx context.Context, ids []int) ([]*models.MomoProvider, []error) {
	loaders := For(ctx)
	return loaders.ProviderLoader.LoadMany(ctx, ids)()
}
