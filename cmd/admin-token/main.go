// Команда admin-token выпускает токен администратора для административного API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/jwt"
)

func main() {
	user := flag.String("user", "admin", "имя администратора в токене")
	ttl := flag.Duration("ttl", 0, "срок жизни токена; 0 берёт jwttoken.token_ttl из конфига")
	flag.Parse()

	cfg := config.MustLoad()
	if *ttl > 0 {
		cfg.TokenTTL = *ttl
	}

	maker, err := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "admin-token:", err)
		os.Exit(1)
	}
	token, err := maker.GenerateToken(*user, jwt.RoleAdmin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "admin-token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
