package service

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidTicket = errors.New("invalid ticket")

// CreateTicket signs a rejoin ticket bound to one life of a room. A room
// recreated after emptying gets a new epoch, so old tickets stop working.
func (svc *Service) CreateTicket(roomId string, epoch string) (string, error) {
	now := svc.now()
	claims := jwt.MapClaims{
		"room":  roomId,
		"epoch": epoch,
		"exp":   now.Add(svc.TicketTTL).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(svc.ticketSecret)
}

// VerifyTicket checks the signature and expiry and that the ticket was issued
// for roomId. It returns the epoch the ticket was issued for.
func (svc *Service) VerifyTicket(tokenString string, roomId string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return svc.ticketSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(svc.now),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidTicket
	}

	ticketRoom, _ := claims["room"].(string)
	if ticketRoom != roomId {
		return "", errors.Join(ErrInvalidTicket, errors.New("ticket issued for another room"))
	}

	epoch, ok := claims["epoch"].(string)
	if !ok || epoch == "" {
		return "", errors.Join(ErrInvalidTicket, errors.New("missing epoch claim"))
	}

	return epoch, nil
}
