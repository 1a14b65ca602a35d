// pipelines/repository.go
package pipelines

import "github.com/chhz0/baybikes/core"

const RepositoryName = "bay_bikes_demo"

// BayBikesDemo 把两条流水线注册到 bay_bikes_demo 仓库
func BayBikesDemo() (*core.Repository, error) {
	return core.Register(RepositoryName, func() core.Definitions {
		return core.Definitions{
			core.CategoryPipelines: {
				{Name: GenerateTrainingSetAndTrainModelName, Accessor: core.PipelineAccessor(GenerateTrainingSetAndTrainModel)},
				{Name: DailyWeatherPipelineName, Accessor: core.PipelineAccessor(DailyWeatherPipeline)},
			},
		}
	})
}
