package apu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPowerCyclePreservesWaveRAMAndMasksRegisters(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF30, 0xAB)
	a.CPUWrite(0xFF11, 0x7F)
	a.CPUWrite(0xFF12, 0xF3)

	a.CPUWrite(0xFF26, 0x00) // power off
	assert.Equal(t, byte(0x3F), a.CPURead(0xFF11), "NR11 after power-off")
	assert.Equal(t, byte(0x00), a.CPURead(0xFF12), "NR12 after power-off")
	assert.Equal(t, byte(0xAB), a.CPURead(0xFF30), "wave RAM must survive a power cycle")

	a.CPUWrite(0xFF26, 0x80) // power back on
	assert.NotZero(t, a.CPURead(0xFF26)&0x80, "NR52 power bit not set after re-enabling")
	assert.Equal(t, byte(0xAB), a.CPURead(0xFF30), "wave RAM corrupted by power-on")
}

func TestTriggerWithDACOffStaysDisabled(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF12, 0x00) // volume 0, envelope down -> DAC off
	a.CPUWrite(0xFF14, 0x80) // trigger
	assert.False(t, a.ch1.active, "channel with DAC off must not enable on trigger")
}

func TestTriggerReloadsLengthOnlyWhenZero(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF12, 0xF0) // DAC on
	a.ch1.lengthCounter = 10
	a.CPUWrite(0xFF14, 0x80)
	assert.Equal(t, 10, a.ch1.lengthCounter, "trigger must not reload a non-zero length counter")

	a.ch1.lengthCounter = 0
	a.CPUWrite(0xFF14, 0x80)
	assert.Equal(t, 64, a.ch1.lengthCounter, "trigger must reload a zero length counter to 64")
}

func TestFrameSequencerMatrix(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0xC0|0x80) // length-enable + trigger
	a.ch1.lengthCounter = 2

	stepsToLength := func(n int) int {
		for i := 0; i < n; i++ {
			for c := 0; c < fsPeriod; c++ {
				a.Tick()
			}
		}
		return a.ch1.lengthCounter
	}

	assert.Equal(t, 1, stepsToLength(1), "length counter after 1 frame-sequencer step (step 0 clocks length)")
}

func TestDACOffChannelIsSilent(t *testing.T) {
	assert.Equal(t, float32(0), dac(10, false), "DAC-off channel must emit 0.0")
}

func TestDACFormula(t *testing.T) {
	assert.Equal(t, float32(1.0), dac(0, true), "DAC(0)")
	assert.Equal(t, float32(-1.0), dac(15, true), "DAC(15)")
}

func TestEnvelopeSaturatesAtBounds(t *testing.T) {
	a := New(44100)
	a.ch1.envelopePeriod = 1
	a.ch1.envelopeUp = true
	a.ch1.currentVolume = 15
	a.ch1.envelopeTimer = 1
	a.ch1.active = true
	a.ch1.dacOn = true
	a.clockEnvelope()
	assert.Equal(t, byte(15), a.ch1.currentVolume, "envelope volume must saturate at 15")
}

func TestSweepOverflowDisablesChannel(t *testing.T) {
	a := New(44100)
	a.ch1.active = true
	a.ch1.shadowFreq = 2000
	a.ch1.sweepShift = 1 // 2000 + 1000 = 3000 > 2047
	a.ch1.sweepPeriod = 1
	a.ch1.sweepEnabled = true
	a.ch1.sweepTimer = 1
	a.clockSweep()
	assert.False(t, a.ch1.active, "sweep overflow must disable the channel")
}

func TestTakeSamplesDrainsRing(t *testing.T) {
	a := New(44100)
	a.push(0.5, -0.5)
	a.push(0.25, -0.25)
	out := a.TakeSamples(10)
	assert.Len(t, out, 4, "TakeSamples float count")
	assert.Equal(t, float32(0.5), out[0], "TakeSamples ordering")
	assert.Equal(t, float32(-0.5), out[1], "TakeSamples ordering")
	assert.Equal(t, 0, a.Buffered(), "ring must be drained after TakeSamples")
}

func TestMasterVolumeMapsOneToEight(t *testing.T) {
	a := New(44100)
	a.nr51 = 0xFF
	a.ch1.active, a.ch1.dacOn = true, true
	a.ch1.currentVolume = 15
	a.ch1.duty = 2

	a.nr50 = 0x00 // both sides at code 0 -> volume 1/8
	l, _ := a.mix()
	a.nr50 = 0x77 // both sides at code 7 -> volume 8/8
	lMax, _ := a.mix()

	abs := func(v float32) float32 {
		if v < 0 {
			return -v
		}
		return v
	}
	assert.Greater(t, abs(lMax), abs(l), "NR50=0x77 must mix louder than NR50=0x00")
}
