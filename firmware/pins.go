//go:build tinygo

package main

import "machine"

const (
	// DEBUG gates the '#' diagnostic lines.
	DEBUG = true

	// ADC configuration
	ADC_RESOLUTION = 10 // Reported range is 0-1023
	ADC_CHANNELS   = 1  // Only A0 is wired

	// Pixel
	PIN_PIXEL = machine.D4 // GPIO2, one WS2812 in GRB order

	// ADC pins
	PIN_ADC = machine.ADC0

	// Serial configuration
	// Replies are at most ~28 bytes ("1234567890123456,0,1023\n") and the
	// host asks for one sample per loop interval, so 115200 is plenty.
	UART_BAUD_RATE = 115200
)
