// Package imports wires the receipt import pipeline: CSV submission, the
// queue-driven parse and scheduler services, receipt reads and exports.
package imports

import (
	"github.com/fundflow/receipts/modules/imports/handlers"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/modules/imports/infrastructure/directory"
	"github.com/fundflow/receipts/modules/imports/infrastructure/docgen"
	"github.com/fundflow/receipts/modules/imports/infrastructure/persistence"
	"github.com/fundflow/receipts/modules/imports/presentation/controllers"
	"github.com/fundflow/receipts/modules/imports/services"
	"github.com/fundflow/receipts/pkg/application"
	"github.com/fundflow/receipts/pkg/configuration"
	"github.com/fundflow/receipts/pkg/queue"
)

type Module struct{}

func NewModule() *Module {
	return &Module{}
}

func (m *Module) Register(app application.Application) error {
	conf := configuration.Use()

	jobRepo := persistence.NewJobRepository()
	rowRepo := persistence.NewRowRepository()
	receiptRepo := persistence.NewReceiptRepository()

	storage := blob.NewDiskStorage(conf.BlobsPath)
	publisher := queue.NewPublisher()

	dirClient := directory.NewHTTPClient(directory.Config{
		BaseURL:       conf.Directory.BaseURL,
		APIKey:        conf.Directory.APIKey,
		Timeout:       conf.Directory.Timeout,
		MaxRetries:    conf.Directory.MaxRetries,
		RetryInterval: conf.Directory.RetryInterval,
	})

	assets := docgen.NewAssetCache(storage, conf.Docgen.TemplateKey, conf.Docgen.FontKey)
	generator := docgen.NewGenerator(assets, docgen.Layout{
		FontSize: conf.Docgen.FontSize,
		NameX:    conf.Docgen.NameX,
		NameY:    conf.Docgen.NameY,
		PeriodX:  conf.Docgen.PeriodX,
		PeriodY:  conf.Docgen.PeriodY,
		AmountX:  conf.Docgen.AmountX,
		AmountY:  conf.Docgen.AmountY,
		DateX:    conf.Docgen.DateX,
		DateY:    conf.Docgen.DateY,
	})

	app.RegisterServices(
		services.NewImportService(jobRepo, rowRepo, storage, publisher, app.EventPublisher()),
		services.NewParseService(jobRepo, rowRepo, storage, publisher, app.EventPublisher()),
		services.NewSchedulerService(
			services.SchedulerConfig{
				BatchSize:           conf.Importer.BatchSize,
				TimeBudget:          conf.Importer.TimeBudget,
				DirectoryCallBudget: conf.Importer.DirectoryCallBudget,
			},
			jobRepo,
			rowRepo,
			receiptRepo,
			dirClient,
			generator,
			storage,
			publisher,
			app.EventPublisher(),
		),
		services.NewReceiptService(receiptRepo, storage),
		services.NewExportService(app.Pool()),
	)

	app.RegisterControllers(
		controllers.NewImportsController(app),
		controllers.NewReceiptsController(app),
		controllers.NewExportsController(app),
		controllers.NewHealthController(app),
	)

	handlers.RegisterJobEventsHandler(app.EventPublisher(), app.Logger())

	return nil
}

// Dispatcher builds the queue dispatcher over the registered services.
func (m *Module) Dispatcher(app application.Application) queue.Dispatcher {
	return handlers.NewQueueDispatcher(
		app.Pool(),
		app.Logger(),
		app.Service(services.ParseService{}).(*services.ParseService),
		app.Service(services.SchedulerService{}).(*services.SchedulerService),
	)
}
