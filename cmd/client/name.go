package main

import (
	"math/rand/v2"
	"strings"
)

var (
	nameWords = []string{
		"Red", "Blue", "Green", "Yellow", "Purple", "Orange", "Cyan", "Magenta",
		"Monika", "Natsuki", "Yuri", "Sayori", "Alpha", "Beta", "Gamma", "Delta",
		"Epsilon", "Punto", "Tipo", "Bravo", "Lento", "Veloce", "Forte", "Debole",
		"Panda", "Picasso", "Einstein", "Newton", "Tesla",
	}
	nameAdjectives = []string{
		"Swift", "Silent", "Brave", "Clever", "Mighty", "Fierce", "Gentle", "Bold",
		"Wise", "Nimble", "Quick", "Sly", "Loyal", "True", "Bright", "Dark",
	}
	nameLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// randomName builds a throwaway display name like "Panda_Swift3kQx". The name
// is cosmetic and never leaves the client in the clear, so math/rand is fine
// here.
func randomName() string {
	var b strings.Builder
	b.WriteString(nameWords[rand.IntN(len(nameWords))])
	b.WriteByte('_')
	b.WriteString(nameAdjectives[rand.IntN(len(nameAdjectives))])
	for range 4 {
		b.WriteByte(nameLetters[rand.IntN(len(nameLetters))])
	}
	return b.String()
}
