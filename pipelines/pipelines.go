// pipelines/pipelines.go
package pipelines

import "github.com/chhz0/baybikes/types"

const (
	DailyWeatherPipelineName             = "daily_weather_pipeline"
	GenerateTrainingSetAndTrainModelName = "generate_training_set_and_train_model"
)

// DailyWeatherPipeline 拉取当天天气报告并写入天气表
func DailyWeatherPipeline() (*types.Pipeline, error) {
	p, err := types.NewPipeline(DailyWeatherPipelineName,
		"Download the daily weather report, clean it and load it into the weather table.",
		types.Step{Name: "download_weather_report_from_weather_api"},
		types.Step{Name: "preprocess_weather_data", DependsOn: []string{"download_weather_report_from_weather_api"}},
		types.Step{Name: "insert_weather_report_into_table", DependsOn: []string{"preprocess_weather_data"}},
	)
	if err != nil {
		return nil, err
	}
	return p.WithTags(map[string]string{"team": "bay_bikes", "cadence": "daily"}), nil
}

// GenerateTrainingSetAndTrainModel 合并行程和天气数据生成训练集并训练模型
func GenerateTrainingSetAndTrainModel() (*types.Pipeline, error) {
	p, err := types.NewPipeline(GenerateTrainingSetAndTrainModelName,
		"Join trip and weather datasets into a training set and fit the traffic forecast model.",
		types.Step{Name: "download_zipfiles_from_urls"},
		types.Step{Name: "unzip_files", DependsOn: []string{"download_zipfiles_from_urls"}},
		types.Step{Name: "consolidate_csv_files", DependsOn: []string{"unzip_files"}},
		types.Step{Name: "upload_consolidated_csv", DependsOn: []string{"consolidate_csv_files"}},
		types.Step{Name: "produce_trip_dataset", DependsOn: []string{"upload_consolidated_csv"}},
		types.Step{Name: "produce_weather_dataset"},
		types.Step{Name: "produce_training_set", DependsOn: []string{"produce_trip_dataset", "produce_weather_dataset"}},
		types.Step{Name: "train_lstm_model", DependsOn: []string{"produce_training_set"}},
		types.Step{Name: "upload_pickled_model", DependsOn: []string{"train_lstm_model"}},
	)
	if err != nil {
		return nil, err
	}
	return p.WithTags(map[string]string{"team": "bay_bikes", "kind": "training"}), nil
}
