package botapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rey45eyh45/daromatx/internal/config"
	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	"github.com/rey45eyh45/daromatx/internal/infra/httpclient"
	tginfra "github.com/rey45eyh45/daromatx/internal/infra/telegram"
	"github.com/rey45eyh45/daromatx/internal/infra/tonindex"
	reconcilejob "github.com/rey45eyh45/daromatx/internal/jobs/reconcile"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
	redrepo "github.com/rey45eyh45/daromatx/internal/repo/redis"
	catalogsvc "github.com/rey45eyh45/daromatx/internal/services/catalog"
	entsvc "github.com/rey45eyh45/daromatx/internal/services/entitlements"
	ledgersvc "github.com/rey45eyh45/daromatx/internal/services/ledger"
	reconcilesvc "github.com/rey45eyh45/daromatx/internal/services/reconcile"
	userssvc "github.com/rey45eyh45/daromatx/internal/services/users"
)

const (
	greetingInstruction   = "Добро пожаловать в Daromat X! Выберите курс:"
	emptyCatalogText      = "Пока нет доступных курсов. Загляните позже."
	emptyLibraryText      = "У вас пока нет купленных курсов."
	alreadyOwnedText      = "Этот курс уже открыт для вас."
	gatewayAfterPayText   = "После оплаты администратор подтвердит платёж и курс откроется автоматически."
	tonNotFoundText       = "Перевод пока не найден. Обычно он появляется в сети за 1-2 минуты, попробуйте ещё раз чуть позже."
	verifyFailedText      = "Не удалось проверить оплату, попробуйте позже."
	paymentOpenFailedText = "Не удалось открыть оплату, попробуйте позже."
)

type App struct {
	cfg      config.Config
	logger   *zap.Logger
	postgres *pgxpool.Pool
	redis    *goredis.Client
	bot      *tginfra.Bot

	users        *userssvc.Service
	catalog      *catalogsvc.Service
	ledger       *ledgersvc.Service
	entitlements *entsvc.Service
	stars        *reconcilesvc.StarsVerifier
	gateway      *reconcilesvc.GatewayVerifier
	ton          *reconcilesvc.TONVerifier
	reconcileJob *reconcilejob.Job
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for bot app: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	attemptRepo := pgrepo.NewPaymentAttemptRepo(pool)
	entitlementRepo := pgrepo.NewEntitlementRepo(pool)
	courseRepo := pgrepo.NewCourseRepo(pool)
	lessonRepo := pgrepo.NewLessonRepo(pool)
	userRepo := pgrepo.NewUserRepo(pool)
	pollRepo := redrepo.NewPollRepo(redisClient)
	catalogCache := redrepo.NewCatalogCacheRepo(redisClient)

	chainIndex := tonindex.NewClient(cfg.Payments.TON.IndexerBaseURL, httpclient.New(cfg.Payments.TON.RequestTimeout))

	ledgerService := ledgersvc.NewService(attemptRepo, courseRepo, nil)
	entitlementService := entsvc.NewService(entitlementRepo, logger)
	coordinator := reconcilesvc.NewCoordinator(ledgerService, entitlementService, logger)
	starsVerifier := reconcilesvc.NewStarsVerifier(coordinator, attemptRepo, logger)
	gatewayVerifier := reconcilesvc.NewGatewayVerifier(coordinator, cfg.Payments.Click, cfg.Payments.Payme, logger)
	tonVerifier := reconcilesvc.NewTONVerifier(coordinator, attemptRepo, chainIndex, pollRepo, cfg.Payments.TON, logger)
	catalogService := catalogsvc.NewService(courseRepo, lessonRepo, catalogCache, logger)
	userService := userssvc.NewService(userRepo)
	job := reconcilejob.NewTONReconcileJob(attemptRepo, tonVerifier, ledgerService, cfg.Payments.TON.MatchWindow, logger)

	var bot *tginfra.Bot
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		bot, err = tginfra.NewBot(cfg.Bot.Token)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
	} else {
		logger.Warn("BOT_TOKEN is empty, storefront listener disabled")
	}

	app := &App{
		cfg:          cfg,
		logger:       logger,
		postgres:     pool,
		redis:        redisClient,
		bot:          bot,
		users:        userService,
		catalog:      catalogService,
		ledger:       ledgerService,
		entitlements: entitlementService,
		stars:        starsVerifier,
		gateway:      gatewayVerifier,
		ton:          tonVerifier,
		reconcileJob: job,
	}
	app.entitlements.OnGranted(app.notifyGranted)

	return app, nil
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis client", zap.Error(err))
		}
	}
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started")

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.runReconcileLoop(ctx)
	}()

	if a.bot != nil {
		go func() {
			errCh <- a.bot.Listen(ctx, tginfra.Handlers{
				OnCommand:     a.handleCommand,
				OnCallback:    a.handleCallback,
				OnPreCheckout: a.handlePreCheckout,
				OnPaid:        a.handlePaid,
			})
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("bot app stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}
	}
}

func (a *App) runReconcileLoop(ctx context.Context) error {
	interval := a.cfg.Payments.TON.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}

	if err := a.reconcileJob.Run(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.reconcileJob.Run(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	if a.bot == nil {
		return nil
	}

	if _, err := a.users.Ensure(ctx, update.UserID, update.Username, ""); err != nil {
		a.logger.Warn("ensure user", zap.Error(err), zap.Int64("telegram_id", update.UserID))
	}

	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start", "courses":
		return a.sendCourseMenu(ctx, update.ChatID)
	case "my":
		return a.sendLibrary(ctx, update.ChatID, update.UserID)
	default:
		return nil
	}
}

func (a *App) handleCallback(ctx context.Context, update tginfra.CallbackUpdate) error {
	if a.bot == nil {
		return nil
	}

	parts := strings.Split(strings.TrimSpace(update.Data), ":")
	if len(parts) < 2 || parts[0] != "shop" {
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестное действие", false)
	}

	if parts[1] == "courses" {
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, "", false); err != nil {
			return err
		}
		return a.sendCourseMenu(ctx, update.ChatID)
	}

	if len(parts) < 3 {
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестное действие", false)
	}
	courseID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || courseID <= 0 {
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Неверный курс", false)
	}

	switch parts[1] {
	case "course":
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, "", false); err != nil {
			return err
		}
		return a.sendCourseDetail(ctx, update.ChatID, courseID)
	case "buy":
		if len(parts) != 4 {
			return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестное действие", false)
		}
		channel, ok := enums.ParsePaymentChannel(parts[3])
		if !ok {
			return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестный способ оплаты", false)
		}
		return a.startPurchase(ctx, update, courseID, channel)
	case "check":
		return a.checkTONPayment(ctx, update, courseID)
	default:
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестное действие", false)
	}
}

func (a *App) handlePreCheckout(ctx context.Context, update tginfra.PreCheckoutUpdate) error {
	if a.bot == nil {
		return nil
	}

	ok, reason := a.stars.ApprovePreCheckout(update.Payload)
	return a.bot.AnswerPreCheckout(ctx, update.QueryID, ok, reason)
}

func (a *App) handlePaid(ctx context.Context, update tginfra.PaidUpdate) error {
	if a.bot == nil {
		return nil
	}

	outcome, err := a.stars.Settle(ctx, update.UserID, update.Payload, update.ChargeID)
	if err != nil {
		// Telegram has already charged the buyer here, so never drop the
		// update silently. The reconcile pass cannot recover stars charges,
		// only a human can, hence the loud log.
		a.logger.Error("settle stars payment",
			zap.Error(err),
			zap.Int64("buyer_id", update.UserID),
			zap.String("payload", update.Payload),
			zap.String("charge_id", update.ChargeID))
		return a.bot.SendText(ctx, update.ChatID, verifyFailedText)
	}

	if outcome.Kind == reconcilesvc.OutcomeAlreadyEntitled {
		return a.bot.SendText(ctx, update.ChatID, alreadyOwnedText)
	}
	// The grant listener sends the congratulation.
	return nil
}

func (a *App) sendCourseMenu(ctx context.Context, chatID int64) error {
	courses, err := a.catalog.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		return a.bot.SendText(ctx, chatID, emptyCatalogText)
	}

	rows := make([][]tginfra.Button, 0, len(courses))
	for _, course := range courses {
		rows = append(rows, []tginfra.Button{{
			Text: fmt.Sprintf("%s — %d сум", course.Title, course.Price),
			Data: fmt.Sprintf("shop:course:%d", course.ID),
		}})
	}
	return a.bot.SendMenu(ctx, chatID, greetingInstruction, rows)
}

func (a *App) sendCourseDetail(ctx context.Context, chatID, courseID int64) error {
	course, err := a.catalog.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrCourseNotFound) {
			return a.bot.SendText(ctx, chatID, "Курс не найден.")
		}
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n\n%s\n\nЦена: %d сум", course.Title, course.Description, course.Price)
	if course.StarsPrice > 0 {
		fmt.Fprintf(&sb, " или %d ⭐", course.StarsPrice)
	}
	sb.WriteString("\n\nВыберите способ оплаты:")

	rows := [][]tginfra.Button{}
	if course.StarsPrice > 0 {
		rows = append(rows, []tginfra.Button{{Text: "⭐ Telegram Stars", Data: buyCallbackData(course.ID, enums.ChannelTelegramStars)}})
	}
	rows = append(rows,
		[]tginfra.Button{
			{Text: "Click", Data: buyCallbackData(course.ID, enums.ChannelClick)},
			{Text: "Payme", Data: buyCallbackData(course.ID, enums.ChannelPayme)},
		},
		[]tginfra.Button{{Text: "💎 TON", Data: buyCallbackData(course.ID, enums.ChannelTON)}},
		[]tginfra.Button{{Text: "← Все курсы", Data: "shop:courses"}},
	)
	return a.bot.SendMenu(ctx, chatID, sb.String(), rows)
}

func (a *App) startPurchase(ctx context.Context, update tginfra.CallbackUpdate, courseID int64, channel enums.PaymentChannel) error {
	owned, err := a.entitlements.Has(ctx, update.UserID, courseID)
	if err != nil {
		a.logger.Warn("check entitlement before purchase", zap.Error(err))
	}
	if owned {
		return a.bot.AnswerCallback(ctx, update.CallbackID, alreadyOwnedText, true)
	}

	attempt, err := a.ledger.Open(ctx, update.UserID, courseID, channel)
	if err != nil {
		a.logger.Warn("open payment attempt",
			zap.Error(err),
			zap.Int64("buyer_id", update.UserID),
			zap.Int64("course_id", courseID),
			zap.String("channel", channel.String()))
		return a.bot.AnswerCallback(ctx, update.CallbackID, paymentOpenFailedText, true)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, "", false); err != nil {
		return err
	}

	course, err := a.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}

	switch channel {
	case enums.ChannelTelegramStars:
		payload := reconcilesvc.CoursePayload(courseID)
		description := course.Description
		if strings.TrimSpace(description) == "" {
			description = course.Title
		}
		return a.bot.SendStarsInvoice(ctx, update.ChatID, course.Title, description, payload, attempt.Amount)

	case enums.ChannelClick:
		text := fmt.Sprintf("Оплата курса «%s» через Click: %d сум.\n\n%s", course.Title, attempt.Amount, gatewayAfterPayText)
		return a.bot.SendMenu(ctx, update.ChatID, text, [][]tginfra.Button{
			{{Text: "Оплатить через Click", URL: a.gateway.ClickPayURL(attempt)}},
		})

	case enums.ChannelPayme:
		text := fmt.Sprintf("Оплата курса «%s» через Payme: %d сум.\n\n%s", course.Title, attempt.Amount, gatewayAfterPayText)
		return a.bot.SendMenu(ctx, update.ChatID, text, [][]tginfra.Button{
			{{Text: "Оплатить через Payme", URL: a.gateway.PaymePayURL(attempt)}},
		})

	case enums.ChannelTON:
		expected := reconcilesvc.ExpectedNanoton(attempt.Amount, a.cfg.Payments.TON.FiatPerTON)
		text := fmt.Sprintf(
			"Оплата курса «%s» в TON.\n\nПереведите <b>%s TON</b> на кошелёк:\n<code>%s</code>\n\nОбязательно укажите комментарий к переводу:\n<code>%s</code>\n\nПосле перевода нажмите кнопку ниже.",
			course.Title, formatTON(expected), a.cfg.Payments.TON.Wallet, reconcilesvc.CoursePayload(courseID))
		return a.bot.SendMenu(ctx, update.ChatID, text, [][]tginfra.Button{
			{{Text: "Я оплатил", Data: fmt.Sprintf("shop:check:%d", courseID)}},
		})
	}
	return nil
}

func (a *App) checkTONPayment(ctx context.Context, update tginfra.CallbackUpdate, courseID int64) error {
	outcome, err := a.ton.Verify(ctx, update.UserID, courseID)
	if err != nil {
		a.logger.Warn("verify ton payment",
			zap.Error(err),
			zap.Int64("buyer_id", update.UserID),
			zap.Int64("course_id", courseID))
		return a.bot.AnswerCallback(ctx, update.CallbackID, verifyFailedText, true)
	}

	switch outcome.Kind {
	case reconcilesvc.OutcomeSettled:
		// The grant listener sends the congratulation message.
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Перевод найден, курс открыт!", true)
	case reconcilesvc.OutcomeAlreadyEntitled:
		return a.bot.AnswerCallback(ctx, update.CallbackID, alreadyOwnedText, true)
	case reconcilesvc.OutcomeThrottled:
		seconds := int(outcome.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		return a.bot.AnswerCallback(ctx, update.CallbackID,
			fmt.Sprintf("Слишком много проверок. Повторите через %d сек.", seconds), true)
	default:
		return a.bot.AnswerCallback(ctx, update.CallbackID, tonNotFoundText, true)
	}
}

func (a *App) sendLibrary(ctx context.Context, chatID, buyerID int64) error {
	grants, err := a.entitlements.ListByBuyer(ctx, buyerID)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		return a.bot.SendText(ctx, chatID, emptyLibraryText)
	}

	var sb strings.Builder
	sb.WriteString("Ваши курсы:\n")
	for _, grant := range grants {
		course, err := a.catalog.GetCourse(ctx, grant.CourseID)
		if err != nil {
			fmt.Fprintf(&sb, "\n• Курс #%d", grant.CourseID)
			continue
		}
		fmt.Fprintf(&sb, "\n• %s", course.Title)
	}

	var rows [][]tginfra.Button
	if url := strings.TrimSpace(a.cfg.Bot.MiniAppURL); url != "" {
		rows = [][]tginfra.Button{{{Text: "Открыть приложение", URL: url}}}
	}
	return a.bot.SendMenu(ctx, chatID, sb.String(), rows)
}

// notifyGranted congratulates the buyer once per new entitlement. The chat
// id equals the buyer's telegram id for direct chats, which is the only
// place purchases happen.
func (a *App) notifyGranted(ctx context.Context, record pgrepo.EntitlementRecord) {
	if a.bot == nil {
		return
	}

	title := fmt.Sprintf("Курс #%d", record.CourseID)
	if course, err := a.catalog.GetCourse(ctx, record.CourseID); err == nil {
		title = course.Title
	}

	text := fmt.Sprintf("🎉 Поздравляем! Курс «%s» открыт. Приятного обучения!", title)
	var rows [][]tginfra.Button
	if url := strings.TrimSpace(a.cfg.Bot.MiniAppURL); url != "" {
		rows = [][]tginfra.Button{{{Text: "Смотреть уроки", URL: url}}}
	}
	if err := a.bot.SendMenu(ctx, record.BuyerID, text, rows); err != nil {
		a.logger.Warn("send grant notification",
			zap.Error(err),
			zap.Int64("buyer_id", record.BuyerID),
			zap.Int64("course_id", record.CourseID))
	}
}

// buyCallbackData builds the channel-picker callback payload. The channel
// segment is the enum's own wire value so handleCallback can hand it
// straight to ParsePaymentChannel.
func buyCallbackData(courseID int64, channel enums.PaymentChannel) string {
	return fmt.Sprintf("shop:buy:%d:%s", courseID, channel)
}

func formatTON(nanoton int64) string {
	return strconv.FormatFloat(float64(nanoton)/1e9, 'f', -1, 64)
}
