//go:build tinygo

//go:generate tinygo flash -target=d1mini

package main

import (
	"image/color"
	"machine"
	"time"

	"github.com/itohio/d1node/pkg/protocol"
	"tinygo.org/x/drivers/ws2812"
)

var (
	adc   machine.ADC
	uart  = machine.UART0
	pixel ws2812.Device

	lines protocol.LineBuffer
	out   = make([]byte, 0, protocol.MaxLine)
	leds  = make([]color.RGBA, 1)
)

func main() {
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})
	debug("")
	debug("Serial setup done.")

	PIN_PIXEL.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pixel = ws2812.New(PIN_PIXEL)
	show(color.RGBA{})

	machine.InitADC()
	adc = machine.ADC{Pin: PIN_ADC}
	adc.Configure(machine.ADCConfig{Resolution: ADC_RESOLUTION})

	debug("Board setup complete...")

	for {
		processSerial()
		time.Sleep(100 * time.Microsecond)
	}
}

func processSerial() {
	for uart.Buffered() > 0 {
		b, err := uart.ReadByte()
		if err != nil {
			break
		}
		line, ok := lines.Feed(b)
		if !ok {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			debug("bad command: " + err.Error())
			continue
		}

		switch cmd.Op {
		case protocol.ReadCommand:
			sample(cmd.Channel)
		case protocol.ColorCommand:
			show(cmd.Color)
		}
	}
}

// sample converts one channel and reports it. Unwired channels are ignored
// and the host times out.
func sample(channel int) {
	if channel >= ADC_CHANNELS {
		debug("no such channel")
		return
	}

	// Get returns a 16-bit scaled value.
	value := int(adc.Get() >> (16 - ADC_RESOLUTION))

	out = protocol.AppendSample(out[:0], time.Now().UnixMicro(), channel, value)
	uart.Write(out)
}

func show(c color.RGBA) {
	leds[0] = c
	if err := pixel.WriteColors(leds); err != nil {
		debug("pixel write failed")
	}
}

func debug(text string) {
	if !DEBUG {
		return
	}
	out = protocol.AppendDebug(out[:0], text)
	uart.Write(out)
}
