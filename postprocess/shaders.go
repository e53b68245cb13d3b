package postprocess

import (
	"deferred-renderer/gpu"
	"deferred-renderer/shader"
)

// ── Shaders ───────────────────────────────────────────────────────────────────

// luminanceFragSrc: per-pixel luminance into a scalar target. The mip chain
// of that target averages it down to one texel.
const luminanceFragSrc = `
#version 410 core
in  vec2  fragUV;
out float outLuminance;

uniform sampler2D in_texture;
` + shader.LuminanceFunc + `
void main() {
    outLuminance = luminance(texture(in_texture, fragUV).rgb);
}
`

// downsampleFragSrc: 13-tap box filter. screen_size is the pixel size of the
// level being read.
const downsampleFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec3 outColor;

uniform sampler2D in_texture;
uniform vec2      screen_size;

void main() {
    vec2 texel = 1.0 / screen_size;
    float x = texel.x;
    float y = texel.y;

    vec3 a = texture(in_texture, vec2(fragUV.x - 2.0*x, fragUV.y + 2.0*y)).rgb;
    vec3 b = texture(in_texture, vec2(fragUV.x,         fragUV.y + 2.0*y)).rgb;
    vec3 c = texture(in_texture, vec2(fragUV.x + 2.0*x, fragUV.y + 2.0*y)).rgb;

    vec3 d = texture(in_texture, vec2(fragUV.x - 2.0*x, fragUV.y)).rgb;
    vec3 e = texture(in_texture, vec2(fragUV.x,         fragUV.y)).rgb;
    vec3 f = texture(in_texture, vec2(fragUV.x + 2.0*x, fragUV.y)).rgb;

    vec3 g = texture(in_texture, vec2(fragUV.x - 2.0*x, fragUV.y - 2.0*y)).rgb;
    vec3 h = texture(in_texture, vec2(fragUV.x,         fragUV.y - 2.0*y)).rgb;
    vec3 i = texture(in_texture, vec2(fragUV.x + 2.0*x, fragUV.y - 2.0*y)).rgb;

    vec3 j = texture(in_texture, vec2(fragUV.x - x, fragUV.y + y)).rgb;
    vec3 k = texture(in_texture, vec2(fragUV.x + x, fragUV.y + y)).rgb;
    vec3 l = texture(in_texture, vec2(fragUV.x - x, fragUV.y - y)).rgb;
    vec3 m = texture(in_texture, vec2(fragUV.x + x, fragUV.y - y)).rgb;

    outColor  = e * 0.125;
    outColor += (a + c + g + i) * 0.03125;
    outColor += (b + d + f + h) * 0.0625;
    outColor += (j + k + l + m) * 0.125;
    outColor  = max(outColor, 1e-4);
}
`

// upsampleFragSrc: 3x3 tent filter, radius in UV units. Blended additively
// onto the larger level.
const upsampleFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec3 outColor;

uniform sampler2D in_texture;
uniform float     filter_radius;

void main() {
    float x = filter_radius;
    float y = filter_radius;

    vec3 a = texture(in_texture, vec2(fragUV.x - x, fragUV.y + y)).rgb;
    vec3 b = texture(in_texture, vec2(fragUV.x,     fragUV.y + y)).rgb;
    vec3 c = texture(in_texture, vec2(fragUV.x + x, fragUV.y + y)).rgb;

    vec3 d = texture(in_texture, vec2(fragUV.x - x, fragUV.y)).rgb;
    vec3 e = texture(in_texture, vec2(fragUV.x,     fragUV.y)).rgb;
    vec3 f = texture(in_texture, vec2(fragUV.x + x, fragUV.y)).rgb;

    vec3 g = texture(in_texture, vec2(fragUV.x - x, fragUV.y - y)).rgb;
    vec3 h = texture(in_texture, vec2(fragUV.x,     fragUV.y - y)).rgb;
    vec3 i = texture(in_texture, vec2(fragUV.x + x, fragUV.y - y)).rgb;

    outColor  = e * 4.0;
    outColor += (b + d + f + h) * 2.0;
    outColor += (a + c + g + i);
    outColor *= 1.0 / 16.0;
}
`

// compositeFragSrc: bloom mix, lens-flare ghosts, exposure from the average
// luminance, ACES tone curve, gamma 2.2 and a little dither.
const compositeFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D frame;         // unit 0
uniform sampler2D bloom_texture; // unit 1
uniform float     luminance_average;
uniform float     bloom_strength;
uniform float     lens_flare_strength;
uniform float     lens_flare_distortion;
uniform float     lens_flare_threshold;
uniform float     lens_flare_ghost_spacing;
uniform int       lens_flare_ghost_count;
uniform float     delta_time;

vec3 sampleDistorted(vec2 uv, vec2 dir, vec3 distortion) {
    return vec3(
        texture(bloom_texture, uv + dir * distortion.r).r,
        texture(bloom_texture, uv + dir * distortion.g).g,
        texture(bloom_texture, uv + dir * distortion.b).b
    );
}

vec3 lensFlare(vec2 uv) {
    if (lens_flare_ghost_count <= 0 || lens_flare_strength <= 0.0) {
        return vec3(0.0);
    }
    vec2 flipped  = vec2(1.0) - uv;
    vec2 ghostVec = (vec2(0.5) - flipped) * lens_flare_ghost_spacing;
    vec2 texel    = 1.0 / vec2(textureSize(bloom_texture, 0));
    vec3 dist     = vec3(-texel.x, 0.0, texel.x) * lens_flare_distortion;
    vec2 dir      = normalize(ghostVec + 1e-6);

    vec3 result = vec3(0.0);
    for (int i = 0; i < lens_flare_ghost_count; ++i) {
        vec2  offset = fract(flipped + ghostVec * float(i));
        float weight = pow(1.0 - length(vec2(0.5) - offset) / length(vec2(0.5)), 10.0);
        vec3  s      = sampleDistorted(offset, dir, dist);
        result += max(s - vec3(lens_flare_threshold), vec3(0.0)) * weight;
    }
    return result * lens_flare_strength;
}

vec3 aces(vec3 x) {
    const float a = 2.51;
    const float b = 0.03;
    const float c = 2.43;
    const float d = 0.59;
    const float e = 0.14;
    return clamp((x * (a * x + b)) / (x * (c * x + d) + e), 0.0, 1.0);
}

void main() {
    vec3 hdr = texture(frame, fragUV).rgb;
    hdr = mix(hdr, texture(bloom_texture, fragUV).rgb, bloom_strength);
    hdr += lensFlare(fragUV);

    vec3 mapped = aces(hdr * 0.18 / max(luminance_average, 1e-4));
    mapped = pow(mapped, vec3(1.0 / 2.2));

    float noise = fract(sin(dot(fragUV + delta_time, vec2(12.9898, 78.233))) * 43758.5453);
    outColor = vec4(mapped + (noise - 0.5) / 255.0, 1.0);
}
`

func luminanceSource() gpu.ProgramSource {
	return gpu.ProgramSource{Name: "postprocess.luminance", Vertex: shader.ScreenVertex, Fragment: luminanceFragSrc}
}

func downsampleSource() gpu.ProgramSource {
	return gpu.ProgramSource{Name: "postprocess.downsample", Vertex: shader.ScreenVertex, Fragment: downsampleFragSrc}
}

func upsampleSource() gpu.ProgramSource {
	return gpu.ProgramSource{Name: "postprocess.upsample", Vertex: shader.ScreenVertex, Fragment: upsampleFragSrc}
}

func compositeSource() gpu.ProgramSource {
	return gpu.ProgramSource{Name: "postprocess.composite", Vertex: shader.ScreenVertex, Fragment: compositeFragSrc}
}
