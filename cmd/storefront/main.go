package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/auth"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/storage"
	"github.com/fjod/go_storefront/pkg/config"
	"github.com/fjod/go_storefront/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Options{Service: "storefront", Env: cfg.AppEnv, Level: cfg.LogLevel})

	durable, err := newDurableStore(cfg)
	if err != nil {
		log.Error("durable storage init failed", "error", err)
		os.Exit(1)
	}
	ephemeral := storage.NewMemoryStore()
	guest, err := storage.NewFileStore(cfg.StatePath + ".cart")
	if err != nil {
		log.Error("guest storage init failed", "error", err)
		os.Exit(1)
	}

	tokens := &api.StorageTokenSource{Durable: durable, Ephemeral: ephemeral, Log: log}
	var clientOpts []api.Option
	if cfg.Tracing {
		clientOpts = append(clientOpts, api.WithInstrumentation())
	}
	client := api.NewClient(cfg.APIBaseURL, tokens, log, clientOpts...)

	authStore := auth.NewStore(client, durable, ephemeral, log, auth.WithRefreshInterval(cfg.RefreshInterval))
	cartStore := cart.NewStore(client, guest, authStore, log)
	authStore.OnChange(cartStore.HandleAuthChange)
	checkoutSvc := checkout.NewService(client, cartStore, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authStore.Init(ctx)
	go authStore.Run(ctx)

	if authStore.Authenticated() {
		sess, _ := authStore.Session()
		log.Info("session restored", "email", sess.Email)
	}

	runShell(ctx, client, authStore, cartStore, checkoutSvc)
	log.Info("bye")
}

func newDurableStore(cfg config.Config) (storage.Store, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return storage.NewRedisStore(client, "storefront:session"), nil
	}
	return storage.NewFileStore(cfg.StatePath)
}

func runShell(ctx context.Context, client *api.Client, authStore *auth.Store, cartStore *cart.Store, checkoutSvc *checkout.Service) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: login <email> <pass> [remember] | register <email> <pass> | products | add <id> [qty] | qty <id> <n> | rm <id> | cart | clear | checkout <name> <phone> <address...> | logout | quit")

	for {
		fmt.Print("> ")
		if ctx.Err() != nil || !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return
		case "login":
			if len(fields) < 3 {
				fmt.Println("usage: login <email> <pass> [remember]")
				continue
			}
			remember := len(fields) > 3 && fields[3] == "remember"
			if err := authStore.LoginWithCredentials(ctx, fields[1], fields[2], remember); err != nil {
				fmt.Println("login failed:", err)
				continue
			}
			fmt.Println("logged in")
		case "register":
			if len(fields) < 3 {
				fmt.Println("usage: register <email> <pass>")
				continue
			}
			if err := authStore.Register(ctx, fields[1], fields[2], "", false); err != nil {
				fmt.Println("register failed:", err)
				continue
			}
			fmt.Println("registered and logged in")
		case "logout":
			authStore.Logout(ctx)
			fmt.Println("logged out")
		case "products":
			products, err := client.ListProducts(ctx)
			if err != nil {
				fmt.Println("list products failed:", err)
				continue
			}
			for _, p := range products {
				fmt.Printf("%4d  %-30s %10.2f\n", p.ID, p.Name, p.Price)
			}
		case "add":
			if len(fields) < 2 {
				fmt.Println("usage: add <id> [qty]")
				continue
			}
			id, _ := strconv.ParseInt(fields[1], 10, 64)
			qty := 1
			if len(fields) > 2 {
				qty, _ = strconv.Atoi(fields[2])
			}
			product, err := client.GetProduct(ctx, id)
			if err != nil {
				fmt.Println("lookup failed:", err)
				continue
			}
			if err := cartStore.AddToCart(ctx, product, qty); err != nil {
				fmt.Println("add failed:", err)
			}
		case "qty":
			if len(fields) < 3 {
				fmt.Println("usage: qty <id> <n>")
				continue
			}
			id, _ := strconv.ParseInt(fields[1], 10, 64)
			n, _ := strconv.Atoi(fields[2])
			if err := cartStore.UpdateQuantity(ctx, id, n); err != nil {
				fmt.Println("update failed:", err)
			}
		case "rm":
			if len(fields) < 2 {
				fmt.Println("usage: rm <id>")
				continue
			}
			id, _ := strconv.ParseInt(fields[1], 10, 64)
			if err := cartStore.RemoveFromCart(ctx, id); err != nil {
				fmt.Println("remove failed:", err)
			}
		case "cart":
			printCart(cartStore)
		case "clear":
			if err := cartStore.ClearCart(ctx); err != nil {
				fmt.Println("clear failed:", err)
			}
		case "checkout":
			if len(fields) < 4 {
				fmt.Println("usage: checkout <name> <phone> <address...>")
				continue
			}
			order, err := checkoutSvc.Submit(ctx, checkout.Details{
				Name:    fields[1],
				Phone:   fields[2],
				Address: strings.Join(fields[3:], " "),
			})
			if err != nil {
				fmt.Println("checkout failed:", err)
				continue
			}
			fmt.Printf("order #%d created, total %.2f\n", order.ID, order.Total)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func printCart(cartStore *cart.Store) {
	items := cartStore.Items()
	if len(items) == 0 {
		fmt.Println("cart is empty")
		return
	}
	for _, item := range items {
		printCartLine(item)
	}
	fmt.Printf("total: %.2f (%d items)\n", cartStore.Total(), cartStore.ItemCount())
}

func printCartLine(item domain.CartItem) {
	fmt.Printf("%4d  %-30s x%-3d %10.2f\n", item.Product.ID, item.Product.Name, item.Quantity, item.Product.Price*float64(item.Quantity))
}
