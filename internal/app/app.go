package app

import (
	"context"
	"log"
	"strings"

	"github.com/slack-go/slack"

	"failurebot/internal/config"
	"failurebot/internal/httpx"
	"failurebot/internal/importer"
	"failurebot/internal/integrations/llm"
	"failurebot/internal/integrations/salesforce"
	slackbot "failurebot/internal/integrations/slack"
	"failurebot/internal/metrics"
	"failurebot/internal/query"
	"failurebot/internal/schedule"
	"failurebot/internal/stepname"
	"failurebot/internal/storage"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Admins=%d LLMProvider=%s LLMModel=%s LLMConfidenceThreshold=%.2f DBDriver=%s Workers=%d ImportWorkers=%d DedupTTL=%s Timezone=%s ExternalHTTPTimeout=%s",
		len(cfg.AdminSlackIDs),
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.LLMConfidence,
		cfg.DBDriver,
		cfg.WorkerPoolSize,
		cfg.ImportPoolSize,
		cfg.DedupTTL(),
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(cfg.DBDriver, cfg.DataSource())
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("Database not reachable: %v", err)
	}
	log.Printf("Database initialized driver=%s", cfg.DBDriver)

	if n, err := store.SeedStepNames(ctx, cfg.StepNamesPath); err != nil {
		log.Printf("Step-name seed error path=%s: %v", cfg.StepNamesPath, err)
	} else if n > 0 {
		log.Printf("Seeded %d step names from %s", n, cfg.StepNamesPath)
	}
	steps := stepname.NewNormalizer(store)

	var glossary *llm.StepGlossary
	if cfg.StepGlossaryPath != "" {
		glossary, err = llm.LoadStepGlossary(cfg.StepGlossaryPath)
		if err != nil {
			log.Printf("Step glossary not loaded path=%s: %v", cfg.StepGlossaryPath, err)
		} else {
			log.Printf("Step glossary loaded path=%s terms=%d", cfg.StepGlossaryPath, len(glossary.Terms))
		}
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatalf("LLM client error: %v", err)
	}

	sf := salesforce.NewClient(salesforce.Config{
		LoginURL:           cfg.SalesforceLoginURL,
		Username:           cfg.SalesforceUsername,
		Password:           cfg.SalesforcePassword,
		SecurityToken:      cfg.SalesforceSecurityToken,
		APIVersion:         cfg.SalesforceAPIVersion,
		MaxAttachmentBytes: cfg.SalesforceMaxAttachBytes,
	}, httpx.ExternalHTTPClient())
	imp := importer.New(sf, store, steps, cfg.SalesforceMaxAttachBytes)

	api := slack.New(
		cfg.SlackBotToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
	)
	chat := slackbot.NewChat(api)

	if len(cfg.AdminSlackIDs) > 0 {
		ids, unresolved, err := slackbot.ResolveUserIDs(api, cfg.AdminSlackIDs)
		if err != nil {
			log.Printf("Error resolving admin_slack_ids: %v", err)
		}
		if len(unresolved) > 0 {
			log.Printf("Unresolved admin_slack_ids: %s", strings.Join(unresolved, ", "))
		}
		cfg.AdminSlackIDs = ids
	}

	d := slackbot.NewDispatcher(slackbot.Deps{
		Chat:          chat,
		Extractor:     llm.NewExtractor(client, steps, glossary, cfg.Location),
		Planner:       llm.NewPlanner(client, cfg.DBDriver),
		Executor:      query.NewExecutor(store),
		Composer:      llm.NewComposer(client),
		Importer:      imp,
		Steps:         steps,
		Dedup:         slackbot.NewDedupStore(cfg.DedupTTL()),
		Workers:       cfg.WorkerPoolSize,
		ImportWorkers: cfg.ImportPoolSize,
		Threshold:     cfg.LLMConfidence,
		IsAdmin:       cfg.IsAdminID,
	})
	defer d.Close()

	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	schedule.StartAutoImport(ctx, cfg, imp, chat)
	schedule.StartStepRefresh(ctx, cfg, steps)

	log.Println("Starting PMD Failure Bot...")
	if err := slackbot.StartSlackBot(api, d); err != nil {
		log.Fatalf("Slack bot error: %v", err)
	}
}
